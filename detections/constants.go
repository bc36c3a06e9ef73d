package detections

const (
	InputWidth    = 128
	InputHeight   = 128
	InputChannels = 3
	NumAnchors    = 896
	BoxStride     = 16
	ConfThreshold = 0.75
	RetryDelayMs  = 100
)
