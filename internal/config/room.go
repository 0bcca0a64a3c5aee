package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const DefaultRoomID = "room"

// Room describes the single room this relay serves. The hub only uses ID;
// the rest is carried for operators and clients.
type Room struct {
	ID                 string
	Teacher            string
	AuthorisedStudents []string
	SignKey            string
}

// LoadRoom reads a room file made of "key = value" lines:
//
//	room = room_568491
//	teacher = user_1
//	authorised_students = user_2, user_3, user_4
//	sign_key = secret
//
// Blank lines and lines starting with '#' are skipped. room, teacher and
// sign_key are required; unknown keys are rejected.
func LoadRoom(path string) (*Room, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read room file: %w", err)
	}
	defer f.Close()

	var r Room
	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("room file %s:%d: missing '='", path, lineno)
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch key {
		case "room":
			r.ID = val
		case "teacher":
			r.Teacher = val
		case "sign_key":
			r.SignKey = val
		case "authorised_students":
			r.AuthorisedStudents = splitList(val)
		default:
			return nil, fmt.Errorf("room file %s:%d: unknown key %q", path, lineno, key)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read room file: %w", err)
	}

	switch {
	case r.ID == "":
		return nil, fmt.Errorf("room file %s: room is required", path)
	case r.Teacher == "":
		return nil, fmt.Errorf("room file %s: teacher is required", path)
	case r.SignKey == "":
		return nil, fmt.Errorf("room file %s: sign_key is required", path)
	}
	return &r, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MaskedSignKey returns the sign key with all but the last two characters hidden.
func (r Room) MaskedSignKey() string {
	if len(r.SignKey) <= 2 {
		return strings.Repeat("*", len(r.SignKey))
	}
	return strings.Repeat("*", len(r.SignKey)-2) + r.SignKey[len(r.SignKey)-2:]
}
