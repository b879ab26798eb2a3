package nl802154

// FamilyName is the generic netlink family registered by the mac802154 stack.
const FamilyName = "nl802154"

// nl802154 commands. Values follow the kernel's enum nl802154_commands.
const (
	CmdGetWPANPhy   uint8 = 1
	CmdSetWPANPhy   uint8 = 2
	CmdNewWPANPhy   uint8 = 3
	CmdDelWPANPhy   uint8 = 4
	CmdGetInterface uint8 = 5
	CmdSetInterface uint8 = 6
	CmdNewInterface uint8 = 7
	CmdDelInterface uint8 = 8
	CmdSetChannel   uint8 = 9
	CmdSetPANID     uint8 = 10
	CmdSetShortAddr uint8 = 11
)

// nl802154 attribute tags. Values follow the kernel's enum nl802154_attrs.
// The comment on each tag is the width of its value.
const (
	AttrWPANPhy      uint16 = 1  // u32
	AttrWPANPhyName  uint16 = 2  // NUL-terminated string
	AttrIfindex      uint16 = 3  // u32
	AttrIfname       uint16 = 4  // NUL-terminated string
	AttrIftype       uint16 = 5  // u32
	AttrWPANDev      uint16 = 6  // u64
	AttrPage         uint16 = 7  // u8
	AttrChannel      uint16 = 8  // u8
	AttrPANID        uint16 = 9  // u16
	AttrShortAddr    uint16 = 10 // u16
	AttrGeneration   uint16 = 20 // u32
	AttrExtendedAddr uint16 = 23 // u64
)

// Header and alignment sizes.
const (
	// AttrHeaderLen is the size of an attribute header (length + type).
	AttrHeaderLen = 4

	// GenlHeaderLen is the size of the generic netlink header
	// (command, version, reserved u16) that precedes a command's attributes.
	GenlHeaderLen = 4

	// MaxValueLen is the largest value a 16-bit attribute length can carry.
	MaxValueLen = 1<<16 - 1 - AttrHeaderLen

	attrAlignTo = 4

	// Flag bits the kernel may set in the type field.
	attrNested       uint16 = 0x8000
	attrNetByteOrder uint16 = 0x4000
	attrTypeMask            = ^(attrNested | attrNetByteOrder)
)

// align rounds n up to the attribute alignment boundary.
func align(n int) int {
	return (n + attrAlignTo - 1) &^ (attrAlignTo - 1)
}
