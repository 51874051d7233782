package firmata

import "go.uber.org/zap"

func errField(err error) zap.Field {
	return zap.Error(err)
}

func cmdField(b byte) zap.Field {
	return zap.Uint8("cmd", b)
}

func panicField(r interface{}) zap.Field {
	return zap.Any("panic", r)
}
