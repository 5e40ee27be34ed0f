package midea

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Session is one authenticated context. It is immutable once created; a new
// login replaces it wholesale.
type Session struct {
	ID          string
	AccessToken string
	UserID      string

	cipher PayloadCipher
}

// HomeGroup is a server-side zone that scopes appliance listing.
type HomeGroup struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Appliance is a discovered device as reported by the appliance list endpoint.
type Appliance struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	ModelNumber  string `json:"model_number,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Online       bool   `json:"online"`
	Active       bool   `json:"active"`
}

// flexString accepts JSON strings and numbers; the cloud is not consistent about ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func isSet(value flexString) bool {
	return strings.TrimSpace(string(value)) == "1"
}

type loginIDResult struct {
	LoginID flexString `json:"loginId"`
}

type loginResult struct {
	SessionID   flexString `json:"sessionId"`
	AccessToken flexString `json:"accessToken"`
	UserID      flexString `json:"userId"`
}

type homeGroupListResult struct {
	List []struct {
		ID        flexString `json:"id"`
		Name      string     `json:"name"`
		IsDefault flexString `json:"isDefault"`
	} `json:"list"`
}

type applianceListResult struct {
	List []struct {
		ID           flexString `json:"id"`
		Name         string     `json:"name"`
		Type         flexString `json:"type"`
		ModelNumber  flexString `json:"modelNumber"`
		SN           flexString `json:"sn"`
		OnlineStatus flexString `json:"onlineStatus"`
		ActiveStatus flexString `json:"activeStatus"`
	} `json:"list"`
}

type transparentReply struct {
	Reply string `json:"reply"`
}
