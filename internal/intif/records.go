package intif

// Persistence records exchanged with the char-server. These mirror the
// database rows, not the in-memory entities: engines map between the two
// at save/load time.

// HomunculusRecord is the persisted form of a homunculus.
type HomunculusRecord struct {
	HomunID   int64
	OwnerChar int32
	SpeciesID int32
	Name      string
	Level     int16
	Exp       int64
	SkillPts  int16

	HP, MaxHP int32
	SP, MaxSP int32
	Str       int16
	Agi       int16
	Vit       int16
	Int       int16
	Dex       int16
	Luk       int16

	Hunger    int16
	Intimacy  int32
	Vaporized bool

	Skills map[int32]int8
}

// MercenaryRecord is the persisted form of a mercenary contract.
type MercenaryRecord struct {
	MercID     int64
	OwnerChar  int32
	SpeciesID  int32
	HP         int32
	SP         int32
	KillCount  int32
	ContractMS int64 // remaining contract time in milliseconds
}

// ElementalRecord is the persisted form of a summoned elemental.
type ElementalRecord struct {
	ElemID    int64
	OwnerChar int32
	SpeciesID int32
	HP        int32
	SP        int32
	Mode      int16
	LifeMS    int64 // remaining lifetime in milliseconds
}

// StorageItem is one persisted container slot.
type StorageItem struct {
	ItemID    int32
	Amount    int32
	Refine    int8
	Attribute int8
	Cards     [4]int32
	Bound     int8
	UniqueID  int64
	ExpireAt  int64
}

// StorageLoadKey selects the container a load request targets. Premium
// separates the premium container, which shares the owner's account id
// with the personal one.
type StorageLoadKey struct {
	AccountID int32
	GuildID   int32
	Premium   bool
}

// StorageRecord is the persisted form of a storage container.
type StorageRecord struct {
	AccountID int32 // owner account; 0 for guild storage
	GuildID   int32 // owning guild; 0 for account storage
	Premium   bool
	Items     []StorageItem
}

// GuildRecord is the persisted form of guild shared state.
type GuildRecord struct {
	GuildID     int32
	Name        string
	MasterChar  int32
	Level       int16
	Exp         int64
	MaxMembers  int16
	Notice      string
	NoticeBody  string
	Positions   []GuildPositionRecord
	Members     []GuildMemberRecord
	Alliances   []GuildAllianceRecord
	Expulsions  []GuildExpulsionRecord
	SkillLevels map[int32]int8
}

// GuildPositionRecord is one rank of a guild.
type GuildPositionRecord struct {
	Index   int16
	Name    string
	Mode    int32 // permission bits
	TaxRate int16
}

// GuildMemberRecord is one member row. GuildID is set on standalone
// membership updates and zero when nested in a GuildRecord.
type GuildMemberRecord struct {
	GuildID  int32
	CharID   int32
	Name     string
	Level    int16
	Online   bool
	Position int16
}

// GuildAllianceRecord is one alliance/opposition edge.
type GuildAllianceRecord struct {
	GuildID    int32
	Name       string
	Opposition bool
}

// GuildExpulsionRecord is one entry of the expulsion log.
type GuildExpulsionRecord struct {
	Name   string
	Reason string
}

// PartyRecord is the persisted form of a party.
type PartyRecord struct {
	PartyID    int32
	Name       string
	LeaderChar int32
	ExpShare   bool
	ItemShare  bool
	ItemPickup bool
	Members    []int32
}

// CharacterRecord carries the slice of character state this server owns
// back to the persistence tier on save sweeps.
type CharacterRecord struct {
	CharID int32
	MapID  int16
	X, Y   int16
	Zeny   int64

	SwordFaith, SwordCalls int32
	SpearFaith, SpearCalls int32
	ArchFaith, ArchCalls   int32
}

// AccountInfoRecord answers an account lookup.
type AccountInfoRecord struct {
	AccountID int32
	GroupID   int
	Premium   bool
}
