package adms

import (
	"reflect"
	"strings"
	"testing"
)

func TestDecodeFields(t *testing.T) {
	tests := []struct {
		name string
		line string
		sep  string
		want Fields
	}{
		{
			name: "reply line",
			line: "ID=1&Return=0&CMD=DATA",
			sep:  "&",
			want: Fields{"ID": "1", "Return": "0", "CMD": "DATA"},
		},
		{
			name: "value containing equals",
			line: "a=b=c",
			sep:  "&",
			want: Fields{"a": "b=c"},
		},
		{
			name: "token without equals dropped",
			line: "noequals&k=v",
			sep:  "&",
			want: Fields{"k": "v"},
		},
		{
			name: "empty value kept",
			line: "pin=1\tname=",
			sep:  "\t",
			want: Fields{"pin": "1", "name": ""},
		},
		{
			name: "keys are case sensitive",
			line: "Pin=1\tpin=2",
			sep:  "\t",
			want: Fields{"Pin": "1", "pin": "2"},
		},
		{
			name: "blank line",
			line: "   ",
			sep:  "\t",
			want: Fields{},
		},
		{
			name: "empty input",
			line: "",
			sep:  "&",
			want: Fields{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeFields(tt.line, tt.sep)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeFields(%q, %q) = %v, want %v", tt.line, tt.sep, got, tt.want)
			}
		})
	}
}

func TestDecodeOptions(t *testing.T) {
	got := DecodeOptions("~DeviceName=SpeedFace,~FirmVer=Ver 8.0.4,IPAddress=10.0.0.5")
	want := Fields{"DeviceName": "SpeedFace", "FirmVer": "Ver 8.0.4", "IPAddress": "10.0.0.5"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecodeOptions() = %v, want %v", got, want)
	}
}

func TestDecodeOptionLines(t *testing.T) {
	got := DecodeOptionLines("~DeviceName=A,FirmVer=1\r\n\r\nNetMask=255.255.255.0\n")
	want := Fields{"DeviceName": "A", "FirmVer": "1", "NetMask": "255.255.255.0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecodeOptionLines() = %v, want %v", got, want)
	}
}

func TestDecodeReplies(t *testing.T) {
	got := DecodeReplies("ID=1&Return=0&CMD=DATA\r\n\r\nID=2&Return=-1&CMD=DATA\n")
	if len(got) != 2 {
		t.Fatalf("DecodeReplies() returned %d lines, want 2", len(got))
	}
	if got[0]["Return"] != "0" || got[1]["Return"] != "-1" {
		t.Errorf("DecodeReplies() = %v", got)
	}

	if got := DecodeReplies(""); len(got) != 0 {
		t.Errorf("DecodeReplies(\"\") = %v, want empty", got)
	}
}

func TestSplitLines(t *testing.T) {
	got := SplitLines("a\r\nb\n\n  \rc")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitLines() = %q, want %q", got, want)
	}
}

func TestStripTablePrefix(t *testing.T) {
	in := Fields{"transaction cardno": "77", "pin": "5", "Transaction doorid": "1"}
	got := StripTablePrefix("transaction", in)
	want := Fields{"cardno": "77", "pin": "5", "doorid": "1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StripTablePrefix() = %v, want %v", got, want)
	}
}

func TestFieldsNumericLenient(t *testing.T) {
	f := Fields{"a": "12", "b": "x1", "c": " 7 ", "flag": "true"}

	if got := f.Int("a"); got != 12 {
		t.Errorf("Int(a) = %d, want 12", got)
	}
	if got := f.Int("b"); got != 0 {
		t.Errorf("Int(b) = %d, want 0", got)
	}
	if got := f.Int("c"); got != 7 {
		t.Errorf("Int(c) = %d, want 7", got)
	}
	if got := f.Int("missing"); got != 0 {
		t.Errorf("Int(missing) = %d, want 0", got)
	}
	if !f.Bool("flag") || !f.Bool("a") || f.Bool("b") {
		t.Error("Bool() returned unexpected values")
	}
}

func TestEncodeUpdate(t *testing.T) {
	u := User{Pin: "1", Name: "Ana", Privilege: 0, Password: "123"}
	got := EncodeUpdate(3, u)
	want := "C:3:DATA UPDATE user pin=1\tname=Ana\tprivilege=0\tpassword=123\tcardno=1\tgroup=0"
	if got != want {
		t.Errorf("EncodeUpdate() = %q, want %q", got, want)
	}
}

func TestEncodeBatch(t *testing.T) {
	users := []User{
		{Pin: "10", Name: "A"},
		{Pin: "20", Name: "B"},
		{Pin: "30", Name: "C"},
	}
	got := EncodeBatch(users)
	lines := strings.Split(got, "\r\n")
	if len(lines) != 3 {
		t.Fatalf("EncodeBatch() produced %d lines, want 3: %q", len(lines), got)
	}
	for i, line := range lines {
		prefix := "C:" + string(rune('1'+i)) + ":DATA UPDATE user pin=" + users[i].Pin + "\t"
		if !strings.HasPrefix(line, prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, line, prefix)
		}
	}

	if got := EncodeBatch([]User{}); got != "" {
		t.Errorf("EncodeBatch(empty) = %q, want empty", got)
	}
}

func TestEncodeCommand(t *testing.T) {
	if got := EncodeCommand(1, "GET OPTIONS ~DeviceName"); got != "C:1:GET OPTIONS ~DeviceName" {
		t.Errorf("EncodeCommand() = %q", got)
	}
}
