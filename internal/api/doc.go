// Package api serves both HTTP audiences of the ADMS server on one
// listener.
//
// Terminals poll /iclock/* (cdata, registry, push, getrequest, ping,
// devicecmd, querydata). Those requests are handed unchanged to the
// adms.Manager and its response is written back byte for byte. Terminals
// are never authenticated.
//
// Operators use /api/v1:
//
//	GET    /health
//	GET    /devices
//	GET    /devices/{sn}
//	POST   /devices/{sn}/commands         {"command": "C:1:..."}
//	DELETE /devices/{sn}/commands/current
//	POST   /devices/{sn}/clock
//	POST   /devices/{sn}/users            {"users": [...], "extended": [...], "authorizations": [...]}
//	GET    /devices/{sn}/tables/{table}
//	GET    /devices/{sn}/options?keys=
//	GET    /events
//	POST   /auth/ws-ticket
//	GET    /ws?ticket=
//
// Command endpoints block until the device answers or the command timeout
// fires. Busy and cancelled answer 409, timeout 504, unknown device 404.
//
// WebSocket clients receive device events after sending a subscribe frame
// whose payload names event types (or "*") and, optionally, serial numbers:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["record"],"devices":["ABC123"]}}
//
// # Security
//
// With security.jwt.secret set, operator routes require an HS256 bearer
// token carrying sub and exp. Tokens are minted outside this server.
// WebSocket connections use single-use tickets so the token never
// appears in a URL.
package api
