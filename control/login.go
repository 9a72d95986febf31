package control

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/visionary/cola"
)

// AccessLevel is a device login tier. Higher levels unlock more variables
// and methods; a fresh connection starts at LevelRun.
type AccessLevel uint8

const (
	LevelRun              AccessLevel = 0
	LevelOperator         AccessLevel = 1
	LevelMaintenance      AccessLevel = 2
	LevelAuthorizedClient AccessLevel = 3
	LevelService          AccessLevel = 4
)

func (l AccessLevel) String() string {
	switch l {
	case LevelRun:
		return "run"
	case LevelOperator:
		return "operator"
	case LevelMaintenance:
		return "maintenance"
	case LevelAuthorizedClient:
		return "authorized client"
	case LevelService:
		return "service"
	default:
		return fmt.Sprintf("level %d", uint8(l))
	}
}

// passwordHash folds an MD5 digest to the 32-bit value the SetAccessMode
// method carries, the same derivation devices apply to their stored
// passwords.
func passwordHash(password string) uint32 {
	sum := md5.Sum([]byte(password))
	var folded [4]byte
	for i := range folded {
		folded[i] = sum[i] ^ sum[i+4] ^ sum[i+8] ^ sum[i+12]
	}
	return binary.BigEndian.Uint32(folded[:])
}

// Login raises the connection's access level by invoking SetAccessMode with
// the level and the password digest. A refused login comes back as a normal
// method response carrying false; the connection keeps its previous level
// and the returned error matches cola.ErrAccessDenied.
func (c *Client) Login(level AccessLevel, password string) error {
	cmd := cola.Invoke("SetAccessMode").
		USInt(uint8(level)).
		UDInt(passwordHash(password)).
		Command()
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return err
	}
	r := resp.Reader()
	granted := r.ReadBool()
	if err := r.Err(); err != nil {
		return fmt.Errorf("control: SetAccessMode reply: %w", err)
	}
	if !granted {
		return fmt.Errorf("control: login as %s refused: %w", level, cola.ErrAccessDenied)
	}
	c.level = level
	return nil
}

// Logout invokes Run, dropping the connection back to run level.
func (c *Client) Logout() error {
	if _, err := c.SendCommand(cola.Invoke("Run").Command()); err != nil {
		return err
	}
	c.level = LevelRun
	return nil
}

// Level returns the access level most recently granted on this connection.
// It reflects what this client negotiated, not device state: a fresh
// connection always reports LevelRun.
func (c *Client) Level() AccessLevel {
	return c.level
}
