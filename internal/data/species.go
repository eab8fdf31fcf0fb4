package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GrowthRange is an inclusive min/max roll applied once per level-up
// (or once, for evolution bonuses).
type GrowthRange struct {
	Min int32 `yaml:"min"`
	Max int32 `yaml:"max"`
}

// SkillSlot is one entry of a species skill tree.
type SkillSlot struct {
	SkillID  int32 `yaml:"skill_id"`
	MaxLevel int8  `yaml:"max_level"` // cap for this species
	ReqLevel int16 `yaml:"req_level"` // minimum companion level to learn
}

// StatGrowth bundles the per-stat growth ranges of a species.
type StatGrowth struct {
	HP  GrowthRange `yaml:"hp"`
	SP  GrowthRange `yaml:"sp"`
	Str GrowthRange `yaml:"str"`
	Agi GrowthRange `yaml:"agi"`
	Vit GrowthRange `yaml:"vit"`
	Int GrowthRange `yaml:"int"`
	Dex GrowthRange `yaml:"dex"`
	Luk GrowthRange `yaml:"luk"`
}

// HomunculusSpecies holds the static template for one homunculus class.
type HomunculusSpecies struct {
	SpeciesID  int32  `yaml:"species_id"`
	Name       string `yaml:"name"`
	FoodItemID int32  `yaml:"food_item_id"`
	MaxLevel   int16  `yaml:"max_level"`

	BaseHP  int32 `yaml:"base_hp"`
	BaseSP  int32 `yaml:"base_sp"`
	BaseStr int16 `yaml:"base_str"`
	BaseAgi int16 `yaml:"base_agi"`
	BaseVit int16 `yaml:"base_vit"`
	BaseInt int16 `yaml:"base_int"`
	BaseDex int16 `yaml:"base_dex"`
	BaseLuk int16 `yaml:"base_luk"`

	Growth StatGrowth `yaml:"growth"`

	// Evolution: 0 = terminal species.
	EvoSpeciesID int32      `yaml:"evo_species_id"`
	EvoMinLevel  int16      `yaml:"evo_min_level"`
	EvoBonus     StatGrowth `yaml:"evo_bonus"`

	// Mutation targets (evolved species only, level 99 tier in the
	// original game; req level comes from the target entry).
	MutateTargets []int32 `yaml:"mutate_targets"`
	MutateReqLvl  int16   `yaml:"mutate_req_level"`

	SkillTree []SkillSlot `yaml:"skills"`
}

// CanEvolve reports whether this species has an evolution target.
func (s *HomunculusSpecies) CanEvolve() bool { return s.EvoSpeciesID != 0 }

// CanMutateTo reports whether target is a legal mutation for this species.
func (s *HomunculusSpecies) CanMutateTo(target int32) bool {
	for _, t := range s.MutateTargets {
		if t == target {
			return true
		}
	}
	return false
}

// SkillSlotFor returns the tree entry for a skill, or nil.
func (s *HomunculusSpecies) SkillSlotFor(skillID int32) *SkillSlot {
	for i := range s.SkillTree {
		if s.SkillTree[i].SkillID == skillID {
			return &s.SkillTree[i]
		}
	}
	return nil
}

// MercenaryClass distinguishes the three mercenary guilds; each tracks
// its own faith value on the owning character.
type MercenaryClass string

const (
	MercSword MercenaryClass = "sword"
	MercSpear MercenaryClass = "spear"
	MercArch  MercenaryClass = "arch"
)

// MercenarySpecies holds the static template for one mercenary class.
type MercenarySpecies struct {
	SpeciesID int32          `yaml:"species_id"`
	Name      string         `yaml:"name"`
	Class     MercenaryClass `yaml:"class"`
	Level     int16          `yaml:"level"`
	MaxHP     int32          `yaml:"max_hp"`
	MaxSP     int32          `yaml:"max_sp"`
	Str       int16          `yaml:"str"`
	Agi       int16          `yaml:"agi"`
	Vit       int16          `yaml:"vit"`
	Int       int16          `yaml:"int"`
	Dex       int16          `yaml:"dex"`
	Luk       int16          `yaml:"luk"`

	SkillTree []SkillSlot `yaml:"skills"`
}

// ElementalMode is the stance of a summoned elemental; upkeep scales
// with aggressiveness.
type ElementalMode int

const (
	ElemPassive ElementalMode = iota
	ElemDefensive
	ElemOffensive
)

// ElementalSpecies holds the static template for one elemental spirit.
type ElementalSpecies struct {
	SpeciesID int32  `yaml:"species_id"`
	Name      string `yaml:"name"`
	Element   string `yaml:"element"` // agni, aqua, ventus, tera
	Scale     int16  `yaml:"scale"`   // 1=small 2=medium 3=large
	Level     int16  `yaml:"level"`
	MaxHP     int32  `yaml:"max_hp"`
	MaxSP     int32  `yaml:"max_sp"`
	Str       int16  `yaml:"str"`
	Agi       int16  `yaml:"agi"`
	Vit       int16  `yaml:"vit"`
	Int       int16  `yaml:"int"`
	Dex       int16  `yaml:"dex"`
	Luk       int16  `yaml:"luk"`

	// SP drained from the owner on each upkeep tick, per mode.
	UpkeepPassive   int32 `yaml:"upkeep_passive"`
	UpkeepDefensive int32 `yaml:"upkeep_defensive"`
	UpkeepOffensive int32 `yaml:"upkeep_offensive"`
}

// Upkeep returns the per-tick SP cost for a mode.
func (s *ElementalSpecies) Upkeep(mode ElementalMode) int32 {
	switch mode {
	case ElemDefensive:
		return s.UpkeepDefensive
	case ElemOffensive:
		return s.UpkeepOffensive
	default:
		return s.UpkeepPassive
	}
}

type speciesFile struct {
	Homunculi  []HomunculusSpecies `yaml:"homunculi"`
	Mercenarys []MercenarySpecies  `yaml:"mercenaries"`
	Elementals []ElementalSpecies  `yaml:"elementals"`
}

// SpeciesTable holds all companion templates, immutable after load.
type SpeciesTable struct {
	homunculi  map[int32]*HomunculusSpecies
	mercenarys map[int32]*MercenarySpecies
	elementals map[int32]*ElementalSpecies
}

// LoadSpeciesTable loads companion species templates from a YAML file.
func LoadSpeciesTable(path string) (*SpeciesTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read species table: %w", err)
	}
	var f speciesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse species table: %w", err)
	}
	return newSpeciesTable(f)
}

// NewSpeciesTable builds a table from in-memory templates.
func NewSpeciesTable(homunculi []HomunculusSpecies, mercenaries []MercenarySpecies, elementals []ElementalSpecies) (*SpeciesTable, error) {
	return newSpeciesTable(speciesFile{Homunculi: homunculi, Mercenarys: mercenaries, Elementals: elementals})
}

func newSpeciesTable(f speciesFile) (*SpeciesTable, error) {
	t := &SpeciesTable{
		homunculi:  make(map[int32]*HomunculusSpecies, len(f.Homunculi)),
		mercenarys: make(map[int32]*MercenarySpecies, len(f.Mercenarys)),
		elementals: make(map[int32]*ElementalSpecies, len(f.Elementals)),
	}
	for i := range f.Homunculi {
		s := &f.Homunculi[i]
		if s.MaxLevel <= 0 {
			return nil, fmt.Errorf("homunculus species %d: max_level must be positive", s.SpeciesID)
		}
		t.homunculi[s.SpeciesID] = s
	}
	for i := range f.Mercenarys {
		s := &f.Mercenarys[i]
		t.mercenarys[s.SpeciesID] = s
	}
	for i := range f.Elementals {
		s := &f.Elementals[i]
		t.elementals[s.SpeciesID] = s
	}
	return t, nil
}

// Homunculus returns a homunculus template by species ID, or nil.
func (t *SpeciesTable) Homunculus(id int32) *HomunculusSpecies { return t.homunculi[id] }

// Mercenary returns a mercenary template by species ID, or nil.
func (t *SpeciesTable) Mercenary(id int32) *MercenarySpecies { return t.mercenarys[id] }

// Elemental returns an elemental template by species ID, or nil.
func (t *SpeciesTable) Elemental(id int32) *ElementalSpecies { return t.elementals[id] }

// Count returns the total number of loaded templates.
func (t *SpeciesTable) Count() int {
	return len(t.homunculi) + len(t.mercenarys) + len(t.elementals)
}
