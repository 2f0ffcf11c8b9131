package adms

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/config"
)

// Response bodies and content types sent to devices.
const (
	bodyOK             = "OK"
	bodyMissingSerial  = "Invalid request: Missing serial number"
	bodyInternalError  = "Internal server error"
	contentTypeDevice  = "text/plain;charset=UTF-8"
	contentTypeCData   = "text/plain"
	registryCodeLayout = "0102150405" // MMddHHmmss
)

// Request is a device request as seen by the protocol engine.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Response is what the HTTP boundary writes back to the device.
type Response struct {
	Status int
	Header http.Header
	Body   string
}

// Route identifies a device endpoint under /iclock/.
type Route string

const (
	RouteRegistry   Route = "registry"
	RoutePush       Route = "push"
	RoutePing       Route = "ping"
	RouteGetRequest Route = "getrequest"
	RouteDeviceCmd  Route = "devicecmd"
	RouteQueryData  Route = "querydata"
	RouteCData      Route = "cdata"
)

// RouteOf returns the route named by the last segment of path. A
// trailing ".aspx" is ignored.
func RouteOf(path string) Route {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	path = strings.ToLower(path)
	path = strings.TrimSuffix(path, ".aspx")
	return Route(path)
}

func textResponse(status int, body string) Response {
	h := make(http.Header)
	h.Set("Content-Type", contentTypeDevice)
	h.Set("Connection", "close")
	return Response{Status: status, Header: h, Body: body}
}

func okResponse() Response {
	return textResponse(http.StatusOK, bodyOK)
}

// registryBody answers /iclock/registry.
func registryBody(now time.Time) string {
	return "RegistryCode=" + now.Format(registryCodeLayout)
}

// pushBody answers /iclock/push with the configured parameters.
func pushBody(p config.PushParameters) string {
	lines := []string{
		"ServerVersion=" + p.ServerVersion,
		"ServerName=" + p.ServerName,
		"PushVersion=" + p.PushVersion,
		"ErrorDelay=" + strconv.Itoa(p.ErrorDelay),
		"RequestDelay=" + strconv.Itoa(p.RequestDelay),
		"TransInterval=" + strconv.Itoa(p.TransInterval),
		"TransTables=" + p.TransTables,
		"TimeZone=" + strconv.Itoa(p.TimeZone),
		"RealTime=" + strconv.Itoa(p.RealTime),
		"TimeoutSec=" + strconv.Itoa(p.TimeoutSec),
	}
	return strings.Join(lines, "\n")
}

// cdataBody answers /iclock/cdata.
func cdataBody(serial string, cfg config.PushConfig) string {
	lines := []string{
		"GET OPTION FROM:" + serial,
		"ATTLOGStamp=None",
		"OPERLOGStamp=9999",
	}
	if cfg.CDataDirectives == config.CDataFull {
		lines = append(lines,
			"ATTPHOTOStamp=None",
			"ErrorDelay="+strconv.Itoa(cfg.Parameters.ErrorDelay),
			"Delay="+strconv.Itoa(cfg.Delay),
			"TransTimes="+cfg.TransferTimes,
			"TransInterval="+strconv.Itoa(cfg.Parameters.TransInterval),
			"TransFlag=TransData AttLog OpLog AttPhoto EnrollUser ChgUser EnrollFP ChgFP UserPic",
			"TimeZone="+strconv.Itoa(cfg.Parameters.TimeZone),
			"Realtime=1",
			"Encrypt=None",
		)
	}
	return strings.Join(lines, "\n")
}

func cdataResponse(serial string, cfg config.PushConfig, now time.Time) Response {
	body := cdataBody(serial, cfg)
	h := make(http.Header)
	h.Set("Content-Type", contentTypeCData)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-store")
	h.Set("Date", now.UTC().Format(http.TimeFormat))
	h.Set("Server", cfg.ServerBanner)
	h.Set("Connection", "close")
	return Response{Status: http.StatusOK, Header: h, Body: body}
}
