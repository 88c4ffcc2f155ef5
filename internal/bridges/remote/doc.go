// Package remote exposes the box over MQTT.
//
// The Bridge is a notify.Sink: each notification becomes an event message,
// and track and volume changes are also kept as retained state. Commands
// published to tagbox/{device_id}/command/stop and .../command/volume are
// executed through the control plane with "mqtt" as the audit source.
//
// Example usage:
//
//	bridge, err := remote.New(remote.Options{
//	    Client:     client,
//	    Topics:     client.Topics(),
//	    QoS:        client.QoS(),
//	    Controller: svc,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := bridge.Start(); err != nil {
//	    return err
//	}
//	defer bridge.Stop()
//	fanout.Add(bridge)
package remote
