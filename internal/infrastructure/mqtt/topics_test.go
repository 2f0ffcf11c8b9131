package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("adms")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", topics.SystemStatus(), "adms/system/status"},
		{"health", topics.Health(), "adms/health"},
		{"event", topics.Event("CQZ7", "record"), "adms/event/CQZ7/record"},
		{"device events", topics.DeviceEvents("CQZ7"), "adms/event/CQZ7/#"},
		{"all events", topics.AllEvents(), "adms/event/#"},
		{"command", topics.Command("CQZ7"), "adms/command/CQZ7"},
		{"all commands", topics.AllCommands(), "adms/command/+"},
		{"ack", topics.Ack("CQZ7"), "adms/ack/CQZ7"},
		{"response", topics.Response("CQZ7"), "adms/response/CQZ7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_Prefix(t *testing.T) {
	if got := NewTopics("").Health(); got != "adms/health" {
		t.Errorf("empty prefix: %q", got)
	}
	if got := NewTopics("/site-a/adms/").Health(); got != "site-a/adms/health" {
		t.Errorf("trimmed prefix: %q", got)
	}
	if got := (Topics{}).Health(); got != "adms/health" {
		t.Errorf("zero value: %q", got)
	}
}

func TestSegment(t *testing.T) {
	if got := Segment("a/b+c#"); got != "a_b_c_" {
		t.Errorf("Segment() = %q", got)
	}
	if got := Segment(""); got != "_" {
		t.Errorf("Segment(\"\") = %q", got)
	}
}

func TestCommandSerial(t *testing.T) {
	topics := NewTopics("adms")

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"adms/command/CQZ7", "CQZ7", true},
		{"adms/command/", "", false},
		{"adms/command/a/b", "", false},
		{"adms/ack/CQZ7", "", false},
		{"other/command/CQZ7", "", false},
	}
	for _, tt := range tests {
		got, ok := topics.CommandSerial(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("CommandSerial(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}
