package yellowblocks

import (
	"context"
	"net"

	"github.com/casper-tapcp/tapcpctl/regval"
	"github.com/casper-tapcp/tapcpctl/tapcp"
)

// TenGbE register offsets within the device's single big register.
const (
	tgeCoreType     = 0x00
	tgeBufferSizes  = 0x04
	tgeWordLengths  = 0x08
	tgeMAC          = 0x0C
	tgeIPv4         = 0x14
	tgeGateway      = 0x18
	tgeNetmask      = 0x1C
	tgeMulticastIP  = 0x20
	tgeMulticastMsk = 0x24
	tgeBytesAvail   = 0x28
	tgeFlags        = 0x2C
	tgePort         = 0x30
	tgeStatus       = 0x34
	tgeArpBase      = 0x1000
)

// TenGbE is the CASPER 10-gigabit Ethernet core yellow block: one named
// device whose sub-fields live at fixed offsets inside it.
type TenGbE struct {
	t    *tapcp.Transport
	name string
}

// NewTenGbE builds a TenGbE bound to device name on t.
func NewTenGbE(t *tapcp.Transport, name string) *TenGbE { return &TenGbE{t: t, name: name} }

// CoreType returns the raw 4-byte word at offset 0x00, the core's
// revision/type flags. Callers needing individual flag bits mask them
// out themselves.
func (g *TenGbE) CoreType(ctx context.Context) (uint32, error) {
	raw, err := g.t.ReadNBytes(ctx, g.name, tgeCoreType, 4)
	if err != nil {
		return 0, err
	}
	return regval.ParseUint32BE(raw)
}

// MAC returns the core's MAC address: the 6 payload bytes of the 8-byte
// slot at offset 0x0C, preceded by 2 zero bytes.
func (g *TenGbE) MAC(ctx context.Context) (net.HardwareAddr, error) {
	raw, err := g.t.ReadNBytes(ctx, g.name, tgeMAC, 8)
	if err != nil {
		return nil, err
	}
	mac := make(net.HardwareAddr, 6)
	copy(mac, raw[2:8])
	return mac, nil
}

// SetMAC writes mac into the 8-byte slot at offset 0x0C, zero-padded in
// the first two bytes.
func (g *TenGbE) SetMAC(ctx context.Context, mac net.HardwareAddr) error {
	buf := make([]byte, 8)
	copy(buf[2:], mac)
	return g.t.WriteBytes(ctx, g.name, tgeMAC, buf)
}

func (g *TenGbE) readIP(ctx context.Context, offset int) (net.IP, error) {
	raw, err := g.t.ReadNBytes(ctx, g.name, offset, 4)
	if err != nil {
		return nil, err
	}
	return net.IPv4(raw[0], raw[1], raw[2], raw[3]), nil
}

func (g *TenGbE) writeIP(ctx context.Context, offset int, ip net.IP) error {
	v4 := ip.To4()
	return g.t.WriteBytes(ctx, g.name, offset, v4)
}

// IPv4 returns the core's unicast IPv4 address (offset 0x14).
func (g *TenGbE) IPv4(ctx context.Context) (net.IP, error) { return g.readIP(ctx, tgeIPv4) }

// SetIPv4 sets the core's unicast IPv4 address.
func (g *TenGbE) SetIPv4(ctx context.Context, ip net.IP) error { return g.writeIP(ctx, tgeIPv4, ip) }

// Gateway returns the core's gateway IPv4 address (offset 0x18).
func (g *TenGbE) Gateway(ctx context.Context) (net.IP, error) { return g.readIP(ctx, tgeGateway) }

// SetGateway sets the core's gateway IPv4 address.
func (g *TenGbE) SetGateway(ctx context.Context, ip net.IP) error {
	return g.writeIP(ctx, tgeGateway, ip)
}

// Netmask returns the core's netmask (offset 0x1C).
func (g *TenGbE) Netmask(ctx context.Context) (net.IP, error) { return g.readIP(ctx, tgeNetmask) }

// SetNetmask sets the core's netmask.
func (g *TenGbE) SetNetmask(ctx context.Context, ip net.IP) error {
	return g.writeIP(ctx, tgeNetmask, ip)
}

// MulticastIP returns the core's multicast IP (offset 0x20).
func (g *TenGbE) MulticastIP(ctx context.Context) (net.IP, error) {
	return g.readIP(ctx, tgeMulticastIP)
}

// SetMulticastIP sets the core's multicast IP.
func (g *TenGbE) SetMulticastIP(ctx context.Context, ip net.IP) error {
	return g.writeIP(ctx, tgeMulticastIP, ip)
}

// MulticastMask returns the core's multicast mask (offset 0x24).
func (g *TenGbE) MulticastMask(ctx context.Context) (net.IP, error) {
	return g.readIP(ctx, tgeMulticastMsk)
}

// SetMulticastMask sets the core's multicast mask.
func (g *TenGbE) SetMulticastMask(ctx context.Context, ip net.IP) error {
	return g.writeIP(ctx, tgeMulticastMsk, ip)
}

// BytesAvailable returns the (tx, rx) buffer occupancy word at offset
// 0x28, each a 16-bit big-endian count.
func (g *TenGbE) BytesAvailable(ctx context.Context) (tx, rx uint16, err error) {
	raw, err := g.t.ReadNBytes(ctx, g.name, tgeBytesAvail, 4)
	if err != nil {
		return 0, 0, err
	}
	return uint16(raw[0])<<8 | uint16(raw[1]), uint16(raw[2])<<8 | uint16(raw[3]), nil
}

// Flags is the {soft_rst, promisc, enable} word at offset 0x2C.
type Flags struct {
	SoftReset bool
	Promisc   bool
	Enable    bool
}

func (f Flags) pack() []byte {
	bb := regval.NewBitBuf(4)
	bb.SetBool(27, f.SoftReset)
	bb.SetBool(29, f.Promisc)
	bb.SetBool(31, f.Enable)
	return bb.Bytes()
}

func unpackFlags(b []byte) Flags {
	bb := regval.BitBufFrom(b)
	return Flags{
		SoftReset: bb.Bool(27),
		Promisc:   bb.Bool(29),
		Enable:    bb.Bool(31),
	}
}

// GetFlags reads the {soft_rst, promisc, enable} word.
func (g *TenGbE) GetFlags(ctx context.Context) (Flags, error) {
	raw, err := g.t.ReadNBytes(ctx, g.name, tgeFlags, 4)
	if err != nil {
		return Flags{}, err
	}
	return unpackFlags(raw), nil
}

// SetFlags writes the {soft_rst, promisc, enable} word.
func (g *TenGbE) SetFlags(ctx context.Context, f Flags) error {
	return g.t.WriteBytes(ctx, g.name, tgeFlags, f.pack())
}

// SetEnable toggles the core's enable flag, leaving soft_rst and promisc
// cleared.
func (g *TenGbE) SetEnable(ctx context.Context, enabled bool) error {
	return g.SetFlags(ctx, Flags{Enable: enabled})
}

// ToggleReset pulses soft_rst: write with rst=false, then true, then
// false, preserving the other flag bits.
func (g *TenGbE) ToggleReset(ctx context.Context) error {
	pre, err := g.GetFlags(ctx)
	if err != nil {
		return err
	}
	pre.SoftReset = false
	if err := g.SetFlags(ctx, pre); err != nil {
		return err
	}
	pre.SoftReset = true
	if err := g.SetFlags(ctx, pre); err != nil {
		return err
	}
	pre.SoftReset = false
	return g.SetFlags(ctx, pre)
}

// Port returns the (port_mask, port) word at offset 0x30.
func (g *TenGbE) Port(ctx context.Context) (mask, port uint16, err error) {
	raw, err := g.t.ReadNBytes(ctx, g.name, tgePort, 4)
	if err != nil {
		return 0, 0, err
	}
	return uint16(raw[0])<<8 | uint16(raw[1]), uint16(raw[2])<<8 | uint16(raw[3]), nil
}

// SetPort sets the core's UDP port, with a wide-open port_mask.
func (g *TenGbE) SetPort(ctx context.Context, port uint16) error {
	buf := make([]byte, 4)
	buf[0], buf[1] = 0x00, 0xFF
	buf[2], buf[3] = byte(port>>8), byte(port)
	return g.t.WriteBytes(ctx, g.name, tgePort, buf)
}

// LinkUp reports the link-up flag of the 8-byte status register at offset
// 0x34: the least significant bit of the register's final byte. The rest
// of the register carries undocumented state and is ignored.
func (g *TenGbE) LinkUp(ctx context.Context) (bool, error) {
	raw, err := g.t.ReadNBytes(ctx, g.name, tgeStatus, 8)
	if err != nil {
		return false, err
	}
	return raw[7]&1 != 0, nil
}

// ArpEntry returns the MAC address stored for the host whose IPv4's last
// octet is lastOctet: entries live at 0x1000+8*lastOctet, laid out like
// the core MAC slot (2 zero bytes, 6 MAC bytes).
func (g *TenGbE) ArpEntry(ctx context.Context, lastOctet byte) (net.HardwareAddr, error) {
	raw, err := g.t.ReadNBytes(ctx, g.name, tgeArpBase+8*int(lastOctet), 8)
	if err != nil {
		return nil, err
	}
	mac := make(net.HardwareAddr, 6)
	copy(mac, raw[2:8])
	return mac, nil
}

// SetArpEntry writes mac into the ARP table entry for lastOctet.
func (g *TenGbE) SetArpEntry(ctx context.Context, lastOctet byte, mac net.HardwareAddr) error {
	buf := make([]byte, 8)
	copy(buf[2:], mac)
	return g.t.WriteBytes(ctx, g.name, tgeArpBase+8*int(lastOctet), buf)
}
