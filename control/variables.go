package control

import (
	"fmt"

	"github.com/banshee-data/visionary/cola"
)

// DeviceIdent is the device's self-description, read from the DeviceIdent
// variable.
type DeviceIdent struct {
	Name    string
	Version string
}

// Ident reads the device name and firmware version.
func (c *Client) Ident() (DeviceIdent, error) {
	resp, err := c.SendCommand(cola.Read("DeviceIdent"))
	if err != nil {
		return DeviceIdent{}, err
	}
	r := resp.Reader()
	ident := DeviceIdent{
		Name:    r.ReadFlexString(),
		Version: r.ReadFlexString(),
	}
	if err := r.Err(); err != nil {
		return DeviceIdent{}, fmt.Errorf("control: DeviceIdent reply: %w", err)
	}
	return ident, nil
}

// StartAcquisition begins continuous frame production on the data channel.
func (c *Client) StartAcquisition() error {
	_, err := c.SendCommand(cola.Invoke("PLAYSTART").Command())
	return err
}

// StopAcquisition halts frame production.
func (c *Client) StopAcquisition() error {
	_, err := c.SendCommand(cola.Invoke("PLAYSTOP").Command())
	return err
}

// StepAcquisition has the device produce exactly one frame, the idiom for
// lockstep pull-process loops.
func (c *Client) StepAcquisition() error {
	_, err := c.SendCommand(cola.Invoke("PLAYNEXT").Command())
	return err
}

// ReadBool reads a Bool variable.
func (c *Client) ReadBool(name string) (bool, error) {
	resp, err := c.SendCommand(cola.Read(name))
	if err != nil {
		return false, err
	}
	r := resp.Reader()
	v := r.ReadBool()
	return v, wrapReply(name, r.Err())
}

// WriteBool writes a Bool variable.
func (c *Client) WriteBool(name string, v bool) error {
	_, err := c.SendCommand(cola.Write(name).Bool(v).Command())
	return err
}

// ReadUInt reads a UInt variable.
func (c *Client) ReadUInt(name string) (uint16, error) {
	resp, err := c.SendCommand(cola.Read(name))
	if err != nil {
		return 0, err
	}
	r := resp.Reader()
	v := r.ReadUInt()
	return v, wrapReply(name, r.Err())
}

// WriteUInt writes a UInt variable.
func (c *Client) WriteUInt(name string, v uint16) error {
	_, err := c.SendCommand(cola.Write(name).UInt(v).Command())
	return err
}

// ReadUDInt reads a UDInt variable.
func (c *Client) ReadUDInt(name string) (uint32, error) {
	resp, err := c.SendCommand(cola.Read(name))
	if err != nil {
		return 0, err
	}
	r := resp.Reader()
	v := r.ReadUDInt()
	return v, wrapReply(name, r.Err())
}

// WriteUDInt writes a UDInt variable.
func (c *Client) WriteUDInt(name string, v uint32) error {
	_, err := c.SendCommand(cola.Write(name).UDInt(v).Command())
	return err
}

func wrapReply(name string, err error) error {
	if err != nil {
		return fmt.Errorf("control: %s reply: %w", name, err)
	}
	return nil
}
