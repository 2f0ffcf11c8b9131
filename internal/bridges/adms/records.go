package adms

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Table names as the firmware spells them.
const (
	TableUser          = "user"
	TableUserExtended  = "userextended"
	TableUserAuthorize = "userauthorize"
	TableTransaction   = "transaction"
	TableTemplatev10   = "templatev10"
	TableBiophoto      = "biophoto"
)

// Record is a row of one of the device's tables.
//
// ToProtocol renders the row's fields in the table's fixed order, tab
// separated, as used in DATA UPDATE commands. Implementations are plain
// values and safe to share between goroutines.
type Record interface {
	TableName() string
	ToProtocol() string
}

// RecordDecoder builds a record from a decoded data row.
type RecordDecoder func(Fields) (Record, error)

var decoders = map[string]RecordDecoder{
	TableUser:          func(f Fields) (Record, error) { return UserFromFields(f) },
	TableUserExtended:  func(f Fields) (Record, error) { return UserExtendedFromFields(f) },
	TableUserAuthorize: func(f Fields) (Record, error) { return UserAuthorizeFromFields(f) },
	TableTransaction:   func(f Fields) (Record, error) { return TransactionFromFields(f) },
	TableTemplatev10:   func(f Fields) (Record, error) { return Templatev10FromFields(f) },
	TableBiophoto:      func(f Fields) (Record, error) { return BiophotoFromFields(f) },
}

// DecoderFor returns the decoder for a table name (case-insensitive).
func DecoderFor(table string) (RecordDecoder, error) {
	dec, ok := decoders[strings.ToLower(table)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return dec, nil
}

// Tables lists the table names that have a record type, sorted.
func Tables() []string {
	names := make([]string, 0, len(decoders))
	for name := range decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// requirePin returns the row's pin or ErrDecodeSkew.
func requirePin(table string, f Fields) (string, error) {
	if len(f) == 0 {
		return "", fmt.Errorf("%w: %s row has no fields", ErrDecodeSkew, table)
	}
	pin := strings.TrimSpace(f.Get("pin"))
	if pin == "" {
		return "", fmt.Errorf("%w: %s row has no pin", ErrDecodeSkew, table)
	}
	return pin, nil
}

func itoa(v int) string { return strconv.Itoa(v) }

func boolToFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// User is an enrolled person.
type User struct {
	Pin        string `json:"pin"`
	Name       string `json:"name"`
	Password   string `json:"password,omitempty"`
	Privilege  int    `json:"privilege"`
	Group      int    `json:"group"`
	CardNumber string `json:"card_number,omitempty"`
}

// TableName implements Record.
func (User) TableName() string { return TableUser }

// ToProtocol implements Record. An empty card number is sent as the pin.
func (u User) ToProtocol() string {
	card := u.CardNumber
	if card == "" {
		card = u.Pin
	}
	return EncodeFields(
		[2]string{"pin", u.Pin},
		[2]string{"name", u.Name},
		[2]string{"privilege", itoa(u.Privilege)},
		[2]string{"password", u.Password},
		[2]string{"cardno", card},
		[2]string{"group", itoa(u.Group)},
	)
}

// UserFromFields decodes a user row.
func UserFromFields(f Fields) (User, error) {
	pin, err := requirePin(TableUser, f)
	if err != nil {
		return User{}, err
	}
	return User{
		Pin:        pin,
		Name:       f.Get("name"),
		Password:   f.Get("password"),
		Privilege:  f.Int("privilege"),
		Group:      f.Int("group"),
		CardNumber: f.Get("cardno"),
	}, nil
}

// UserExtended carries per-user verification settings.
type UserExtended struct {
	Pin        string `json:"pin"`
	VerifyMode int    `json:"verify_mode"`
	Enabled    bool   `json:"enabled"`
}

// TableName implements Record.
func (UserExtended) TableName() string { return TableUserExtended }

// ToProtocol implements Record.
func (u UserExtended) ToProtocol() string {
	return EncodeFields(
		[2]string{"pin", u.Pin},
		[2]string{"verifymode", itoa(u.VerifyMode)},
		[2]string{"enabled", boolToFlag(u.Enabled)},
	)
}

// UserExtendedFromFields decodes a userextended row.
func UserExtendedFromFields(f Fields) (UserExtended, error) {
	pin, err := requirePin(TableUserExtended, f)
	if err != nil {
		return UserExtended{}, err
	}
	return UserExtended{
		Pin:        pin,
		VerifyMode: f.Int("verifymode"),
		Enabled:    f.Bool("enabled"),
	}, nil
}

// UserAuthorize grants a user access for a validity period.
type UserAuthorize struct {
	Pin            string `json:"pin"`
	Token          string `json:"token"`
	ValidityPeriod int    `json:"validity_period"`
}

// TableName implements Record.
func (UserAuthorize) TableName() string { return TableUserAuthorize }

// ToProtocol implements Record.
func (u UserAuthorize) ToProtocol() string {
	return EncodeFields(
		[2]string{"pin", u.Pin},
		[2]string{"authorizationtoken", u.Token},
		[2]string{"validityperiod", itoa(u.ValidityPeriod)},
	)
}

// UserAuthorizeFromFields decodes a userauthorize row.
func UserAuthorizeFromFields(f Fields) (UserAuthorize, error) {
	pin, err := requirePin(TableUserAuthorize, f)
	if err != nil {
		return UserAuthorize{}, err
	}
	return UserAuthorize{
		Pin:            pin,
		Token:          f.Get("authorizationtoken"),
		ValidityPeriod: f.Int("validityperiod"),
	}, nil
}

// Transaction is an attendance or access event recorded by the device.
type Transaction struct {
	Pin        string    `json:"pin"`
	CardNumber string    `json:"card_number,omitempty"`
	EventType  int       `json:"event_type"`
	InOutState int       `json:"in_out_state"`
	DoorID     int       `json:"door_id"`
	Verified   int       `json:"verified"`
	DateTime   time.Time `json:"date_time"`
}

// TableName implements Record.
func (Transaction) TableName() string { return TableTransaction }

// ToProtocol implements Record. DateTime is packed with the device
// calendar.
func (t Transaction) ToProtocol() string {
	return EncodeFields(
		[2]string{"pin", t.Pin},
		[2]string{"cardno", t.CardNumber},
		[2]string{"eventtype", itoa(t.EventType)},
		[2]string{"inoutstate", itoa(t.InOutState)},
		[2]string{"doorid", itoa(t.DoorID)},
		[2]string{"verified", itoa(t.Verified)},
		[2]string{"time_second", strconv.FormatInt(EncodeDeviceTime(t.DateTime), 10)},
	)
}

// TransactionFromFields decodes a transaction row. time_second is a
// device-calendar timestamp.
func TransactionFromFields(f Fields) (Transaction, error) {
	pin, err := requirePin(TableTransaction, f)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		Pin:        pin,
		CardNumber: f.Get("cardno"),
		EventType:  f.Int("eventtype"),
		InOutState: f.Int("inoutstate"),
		DoorID:     f.Int("doorid"),
		Verified:   f.Int("verified"),
		DateTime:   DecodeDeviceTime(f.Int64("time_second")),
	}, nil
}

// Templatev10 is a version 10 fingerprint template.
type Templatev10 struct {
	Pin      string `json:"pin"`
	FingerID int    `json:"finger_id"`
	Valid    int    `json:"valid"`
	Template string `json:"template"`
}

// TableName implements Record.
func (Templatev10) TableName() string { return TableTemplatev10 }

// ToProtocol implements Record.
func (t Templatev10) ToProtocol() string {
	return EncodeFields(
		[2]string{"pin", t.Pin},
		[2]string{"fingerid", itoa(t.FingerID)},
		[2]string{"valid", itoa(t.Valid)},
		[2]string{"template", t.Template},
	)
}

// Templatev10FromFields decodes a templatev10 row.
func Templatev10FromFields(f Fields) (Templatev10, error) {
	pin, err := requirePin(TableTemplatev10, f)
	if err != nil {
		return Templatev10{}, err
	}
	return Templatev10{
		Pin:      pin,
		FingerID: f.Int("fingerid"),
		Valid:    f.Int("valid"),
		Template: f.Get("template"),
	}, nil
}

// Biophoto is a face photo. Content is base64 as sent by the device.
type Biophoto struct {
	Pin      string `json:"pin"`
	Size     int    `json:"size"`
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

// TableName implements Record.
func (Biophoto) TableName() string { return TableBiophoto }

// ToProtocol implements Record.
func (b Biophoto) ToProtocol() string {
	return EncodeFields(
		[2]string{"pin", b.Pin},
		[2]string{"size", itoa(b.Size)},
		[2]string{"filename", b.FileName},
		[2]string{"content", b.Content},
	)
}

// BiophotoFromFields decodes a biophoto row.
func BiophotoFromFields(f Fields) (Biophoto, error) {
	pin, err := requirePin(TableBiophoto, f)
	if err != nil {
		return Biophoto{}, err
	}
	return Biophoto{
		Pin:      pin,
		Size:     f.Int("size"),
		FileName: f.Get("filename"),
		Content:  f.Get("content"),
	}, nil
}
