package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// StatusOK is the status code the auth service puts in successful replies
const StatusOK = 20001

// PMReading is a particulate matter sample in µg/m³
type PMReading struct {
	PM1_0 float64 `json:"pm1_0"`
	PM2_5 float64 `json:"pm2_5"`
	PM10  float64 `json:"pm10"`
}

// DHTReading is a temperature (°C) and relative humidity (%) sample
type DHTReading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// FireLog is the most recent entry of the fire detection log
type FireLog struct {
	DetectedAt   string `json:"detected_at"`
	FireDetected bool   `json:"fire_detected"`
	VideoName    string `json:"video_name"`
}

// LoginResult holds the credentials returned by a successful login
type LoginResult struct {
	Token string
	UID   string
}

// UserDetails is the account profile of a user
type UserDetails struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// authReply is the envelope every auth service reply uses
type authReply struct {
	Status  int          `json:"status"`
	Message string       `json:"message"`
	Token   string       `json:"token"`
	UID     flexString   `json:"uid"`
	Data    *UserDetails `json:"data"`
}

// flexString accepts a JSON string or number. The auth service sends uid as a number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}
