// Package mqtt provides the broker client for the external data-source
// feed.
//
// Data producers (weather gateways, energy meters, presence sensors)
// publish JSON updates to halobridge/datasource/<key>; the bridge
// subscribes with a single wildcard and fans each update out to the
// widgets that subscribed to that key. The client handles reconnection
// and subscription restoration so a broker restart is invisible to the
// widget layer.
package mqtt
