// Package mqtt connects the box to an optional MQTT broker for home
// automation. The client reconnects on its own, keeps its subscriptions
// across reconnects, and leaves a retained offline will on the status topic.
//
// Every topic lives under tagbox/{device_id}/ (see Topics). The broker is
// not required: with mqtt.enabled=false the box runs standalone.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Device.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        name, _ := topics.CommandName(topic)
//	        return handle(name, payload)
//	    })
package mqtt
