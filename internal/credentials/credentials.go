// Package credentials reads and stores the marketplace login. The file is
// written with restrictive permissions; a .enc suffix selects streaming
// encryption with a key from SBM_LOGIN_KEY.
package credentials

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/gotarr/sbmirror/internal/cryptoutil"
)

const keyEnv = "SBM_LOGIN_KEY"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// Load reads the credential file.
func Load(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	if isEncryptedPath(path) {
		key, err := encryptionKey()
		if err != nil {
			return Credentials{}, err
		}
		reader, err := cryptoutil.DecryptReader(bytes.NewReader(data), key)
		if err != nil {
			return Credentials{}, fmt.Errorf("decrypt credentials: %w", err)
		}
		data, err = io.ReadAll(reader)
		if err != nil {
			return Credentials{}, fmt.Errorf("decrypt credentials: %w", err)
		}
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	return creds, nil
}

// Save writes the credential file with 0600 permissions, encrypting when
// the path carries the .enc suffix.
func Save(path string, creds Credentials) error {
	payload, err := json.MarshalIndent(creds, "", "    ")
	if err != nil {
		return err
	}
	if isEncryptedPath(path) {
		key, err := encryptionKey()
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		writer, err := cryptoutil.EncryptWriter(&buf, key)
		if err != nil {
			return fmt.Errorf("encrypt credentials: %w", err)
		}
		if _, err := writer.Write(payload); err != nil {
			return fmt.Errorf("encrypt credentials: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("encrypt credentials: %w", err)
		}
		payload = buf.Bytes()
	}
	return os.WriteFile(path, payload, 0o600)
}

// Prompt asks for username and password on the terminal. The password is
// read without echo when stdin is a terminal.
func Prompt(in *os.File, out io.Writer) (Credentials, error) {
	reader := bufio.NewReader(in)

	fmt.Fprint(out, "Splunkbase username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return Credentials{}, err
	}
	username = strings.TrimSpace(username)

	fmt.Fprint(out, "Splunkbase password: ")
	var password string
	if term.IsTerminal(int(in.Fd())) {
		raw, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return Credentials{}, err
		}
		password = string(raw)
	} else {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Credentials{}, err
		}
		password = strings.TrimSpace(line)
	}

	creds := Credentials{Username: username, Password: password}
	if !creds.Valid() {
		return Credentials{}, errors.New("username and password are required")
	}
	return creds, nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc")
}

func encryptionKey() ([]byte, error) {
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("credential file is encrypted but %s is not set", keyEnv)
	}
	return cryptoutil.ParseKey(key)
}
