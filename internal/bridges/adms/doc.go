// Package adms implements the server side of the ZKTeco ADMS push protocol.
//
// Attendance and access terminals poll the server over plain HTTP under
// /iclock/. They ask for work on getrequest, reply on devicecmd and stream
// bulk table data on querydata. This package keeps per-device state across
// those independent requests and turns them into a blocking
// call/response API for operators.
//
// # Architecture
//
//	┌──────────┐  HTTP poll   ┌─────────┐  Dispatch  ┌─────────┐
//	│ Terminal │◄────────────►│   api   │───────────►│ Manager │
//	└──────────┘  /iclock/*   └─────────┘            └────┬────┘
//	                                                      │ serial number
//	                                                 ┌────▼────┐
//	        operator ── IssueCommand / PullTable ───►│ Session │──► Notifier ──► sinks
//	                                                 └─────────┘
//
// # Command lifecycle
//
// A command moves AwaitingTransmission → AwaitingResponse → Completed.
// IssueCommand installs it, the next getrequest hands its text to the
// device, and the device's devicecmd completes it and releases the waiter.
// querydata chunks received in between are accumulated on the command.
// devicecmd and querydata are only accepted once the command has been
// fetched. Only one command may be in flight per device; a second
// IssueCommand fails with ErrCommandBusy. A fetched command whose waiter
// timed out stays in flight until the device's late reply completes it
// or Session.Cancel withdraws it.
//
// # Wire format
//
// Commands are lines of the form "C:<id>:<body>", joined with CRLF when
// batched. Table rows are tab-separated key=value pairs; devicecmd replies
// use "&". Timestamps use the device calendar (see EncodeDeviceTime).
//
// # Thread Safety
//
// Manager, Session and Notifier are safe for concurrent use. Device
// requests for one session are serialised; different sessions run in
// parallel.
package adms
