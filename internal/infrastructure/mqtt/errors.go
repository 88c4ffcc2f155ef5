package mqtt

import "errors"

var (
	ErrNotConnected     = errors.New("mqtt: broker connection down")
	ErrConnectionFailed = errors.New("mqtt: could not reach broker")
	ErrPublishFailed    = errors.New("mqtt: publish not acknowledged")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe not acknowledged")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")
)
