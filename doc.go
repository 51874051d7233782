// Package firmata is a host-side client for the Firmata protocol,
// driving an Arduino-compatible board over a serial link or a raw TCP
// socket. Connect opens a board and runs discovery; the returned
// Client exposes pin-mode, digital/analog, I2C, SPI, servo, stepper,
// tone, sonar, and DHT verbs, plus one-shot queries for firmware and
// capability information.
package firmata
