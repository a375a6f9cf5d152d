package bus

import "errors"

var (
	ErrNotConnected    = errors.New("bus: not connected")
	ErrInvalidTopic    = errors.New("bus: invalid topic")
	ErrPublishFailed   = errors.New("bus: publish failed")
	ErrSubscribeFailed = errors.New("bus: subscribe failed")
	ErrConnectFailed   = errors.New("bus: connect failed")
)
