package gamedb

// Flag bits, first word.
const (
	FlagSeeThru   = 0x00000008
	FlagWizard    = 0x00000010
	FlagLinkOK    = 0x00000020
	FlagDark      = 0x00000040
	FlagJumpOK    = 0x00000080
	FlagSticky    = 0x00000100
	FlagDestroyOK = 0x00000200
	FlagHaven     = 0x00000400
	FlagQuiet     = 0x00000800
	FlagHalt      = 0x00001000
	FlagTrace     = 0x00002000
	FlagGoing     = 0x00004000
	FlagMonitor   = 0x00008000
	FlagMyopic    = 0x00010000
	FlagPuppet    = 0x00020000
	FlagChownOK   = 0x00040000
	FlagEnterOK   = 0x00080000
	FlagVisual    = 0x00100000
	FlagImmortal  = 0x00200000
	FlagOpaque    = 0x00800000
	FlagVerbose   = 0x01000000
	FlagInherit   = 0x02000000
	FlagNoSpoof   = 0x04000000
	FlagRobot     = 0x08000000
	FlagSafe      = 0x10000000
	FlagRoyalty   = 0x20000000
	FlagHearThru  = 0x40000000
	FlagTerse     = 0x80000000
)

// Flag bits, second word.
const (
	Flag2Abode      = 0x00000002
	Flag2Unfindable = 0x00000008
	Flag2ParentOK   = 0x00000010
	Flag2Light      = 0x00000020
	Flag2Connected  = 0x00000200
	Flag2Ansi       = 0x00002000
	Flag2Blind      = 0x00008000
	Flag2ControlOK  = 0x00010000
	Flag2Gagged     = 0x08000000
	Flag2Staff      = 0x10000000
)

// Power bits, first word.
const (
	PowChownAny   = 0x00000002
	PowBoot       = 0x00000008
	PowHalt       = 0x00000010
	PowControlAll = 0x00000020
	PowExamAll    = 0x00000080
	PowSeeQueue   = 0x00100000
	PowPassLocks  = 0x04000000
	PowSteal      = 0x10000000
)

// Power bits, second word.
const (
	Pow2Builder = 0x00000001
	Pow2Cloak   = 0x00000040
)

// FlagDef maps a flag or power name to its word index and bit mask.
type FlagDef struct {
	Name string
	Word int
	Bit  int
}

var flagOrder = []*FlagDef{
	{Name: "WIZARD", Word: 0, Bit: FlagWizard},
	{Name: "ROYALTY", Word: 0, Bit: FlagRoyalty},
	{Name: "DARK", Word: 0, Bit: FlagDark},
	{Name: "HAVEN", Word: 0, Bit: FlagHaven},
	{Name: "HALT", Word: 0, Bit: FlagHalt},
	{Name: "SAFE", Word: 0, Bit: FlagSafe},
	{Name: "INHERIT", Word: 0, Bit: FlagInherit},
	{Name: "NOSPOOF", Word: 0, Bit: FlagNoSpoof},
	{Name: "VISUAL", Word: 0, Bit: FlagVisual},
	{Name: "OPAQUE", Word: 0, Bit: FlagOpaque},
	{Name: "QUIET", Word: 0, Bit: FlagQuiet},
	{Name: "PUPPET", Word: 0, Bit: FlagPuppet},
	{Name: "STICKY", Word: 0, Bit: FlagSticky},
	{Name: "MONITOR", Word: 0, Bit: FlagMonitor},
	{Name: "ROBOT", Word: 0, Bit: FlagRobot},
	{Name: "ENTER_OK", Word: 0, Bit: FlagEnterOK},
	{Name: "LINK_OK", Word: 0, Bit: FlagLinkOK},
	{Name: "JUMP_OK", Word: 0, Bit: FlagJumpOK},
	{Name: "VERBOSE", Word: 0, Bit: FlagVerbose},
	{Name: "TERSE", Word: 0, Bit: FlagTerse},
	{Name: "TRACE", Word: 0, Bit: FlagTrace},
	{Name: "GOING", Word: 0, Bit: FlagGoing},
	{Name: "MYOPIC", Word: 0, Bit: FlagMyopic},
	{Name: "CHOWN_OK", Word: 0, Bit: FlagChownOK},
	{Name: "DESTROY_OK", Word: 0, Bit: FlagDestroyOK},
	{Name: "SEE_THROUGH", Word: 0, Bit: FlagSeeThru},
	{Name: "HEAR_THROUGH", Word: 0, Bit: FlagHearThru},
	{Name: "IMMORTAL", Word: 0, Bit: FlagImmortal},
	{Name: "ABODE", Word: 1, Bit: Flag2Abode},
	{Name: "UNFINDABLE", Word: 1, Bit: Flag2Unfindable},
	{Name: "PARENT_OK", Word: 1, Bit: Flag2ParentOK},
	{Name: "LIGHT", Word: 1, Bit: Flag2Light},
	{Name: "CONNECTED", Word: 1, Bit: Flag2Connected},
	{Name: "ANSI", Word: 1, Bit: Flag2Ansi},
	{Name: "BLIND", Word: 1, Bit: Flag2Blind},
	{Name: "CONTROL_OK", Word: 1, Bit: Flag2ControlOK},
	{Name: "GAGGED", Word: 1, Bit: Flag2Gagged},
	{Name: "STAFF", Word: 1, Bit: Flag2Staff},
}

// FlagTable is the flag name -> definition table.
var FlagTable = indexDefs(flagOrder)

// PowerTable is the power name -> definition table.
var PowerTable = indexDefs([]*FlagDef{
	{Name: "CHOWN_ANYTHING", Word: 0, Bit: PowChownAny},
	{Name: "BOOT", Word: 0, Bit: PowBoot},
	{Name: "HALT", Word: 0, Bit: PowHalt},
	{Name: "CONTROL_ALL", Word: 0, Bit: PowControlAll},
	{Name: "SEE_ALL", Word: 0, Bit: PowExamAll},
	{Name: "SEE_QUEUE", Word: 0, Bit: PowSeeQueue},
	{Name: "PASS_LOCKS", Word: 0, Bit: PowPassLocks},
	{Name: "STEAL_MONEY", Word: 0, Bit: PowSteal},
	{Name: "BUILDER", Word: 1, Bit: Pow2Builder},
	{Name: "CLOAK", Word: 1, Bit: Pow2Cloak},
})

func indexDefs(defs []*FlagDef) map[string]*FlagDef {
	m := make(map[string]*FlagDef, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return m
}

// LockAttrs maps lock type names to the attribute that stores the lock
// string. Locks are stored like attributes but never inherited.
var LockAttrs = map[string]string{
	"BASIC":   "LOCK",
	"DEFAULT": "LOCK",
	"ENTER":   "LENTER",
	"LEAVE":   "LLEAVE",
	"PAGE":    "LPAGE",
	"USE":     "LUSE",
	"GIVE":    "LGIVE",
	"RECEIVE": "LRECEIVE",
	"TPORT":   "LTPORT",
	"DROP":    "LDROP",
	"LINK":    "LLINK",
	"TELEOUT": "LTELOUT",
	"USER":    "LUSER",
	"PARENT":  "LPARENT",
	"CONTROL": "LCONTROL",
	"SPEECH":  "LSPEECH",
	"DARK":    "LDARK",
}
