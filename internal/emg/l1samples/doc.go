// Package l1samples is the acquisition boundary of the pipeline.
//
// Acquisition sources (serial line subscriptions, UDP datagrams, MQTT
// messages, recorded replays) parse delimited sample rows and append them
// to a Buffer. The Buffer is the single-producer/single-consumer hand-off
// between the acquisition goroutine and the online control loop.
package l1samples
