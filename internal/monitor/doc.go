// Package monitor runs the attendance routine against every device that
// connects to the server.
//
// On a device's first contact the monitor:
//  1. Pushes the server clock to the device (optional)
//  2. Reads the configured option keys (optional)
//  3. Pulls the transaction table immediately and then every
//     TransactionInterval until shutdown (optional)
//
// Transactions newer than the last one seen for that device are handed to
// the TransactionHandler. The monitor is an adms.EventSink: subscribe it
// to the Notifier and it reacts to device_connected events.
package monitor
