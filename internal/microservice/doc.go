// Package microservice defines the contract every organization plugin implements.
//
// Plugins embed Base, register their datastream addresses with Handle when they
// are built, and override only the event methods they care about. Timer helpers
// on Base prefix every reference with the plugin's stable ID so two plugins can
// use the same reference without colliding.
//
// Typical usage:
//
//	type Plugin struct {
//		microservice.Base
//		Counter int `json:"counter"`
//	}
//
//	func New() microservice.Microservice {
//		p := &Plugin{}
//		p.Handle("reset_counter", p.resetCounter)
//		return p
//	}
package microservice
