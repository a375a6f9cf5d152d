// Package bus connects the runtime to an MQTT broker.
//
// Outbound: Client implements microservice.Publisher; every external
// datastream message goes to <prefix>/datastream/<address> as JSON.
//
// Inbound: Listen subscribes to <prefix>/datastream/# and <prefix>/datarequest
// and turns each message into a gateway.Invocation. Messages we sent ourselves
// are ignored.
//
// Recorder is an in-memory Publisher for tests and dry runs.
package bus
