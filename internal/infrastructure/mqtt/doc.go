// Package mqtt provides the broker connection used by the ADMS server.
//
// The server publishes device events and bridge health to MQTT and accepts
// operator commands from it. This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and a payload size limit
//   - Subscriptions that are restored after a reconnect
//   - A retained online/offline status with Last Will and Testament
//
// Topic layout (see Topics):
//
//	adms/system/status
//	adms/health
//	adms/event/{sn}/{type}
//	adms/command/{sn}  ->  adms/ack/{sn}, adms/response/{sn}
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        sn, _ := client.Topics().CommandSerial(topic)
//	        return handle(sn, payload)
//	    })
package mqtt
