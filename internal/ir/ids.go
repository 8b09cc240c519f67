package ir

// OpID addresses an operation in a Module arena. The zero value is invalid.
type OpID uint32

// BlockID addresses a block in a Module arena. The zero value is invalid.
type BlockID uint32

// RegionID addresses a region in a Module arena. The zero value is invalid.
type RegionID uint32

// ValueID addresses an SSA value in a Module arena. The zero value is invalid.
type ValueID uint32

const (
	NoOp     OpID     = 0
	NoBlock  BlockID  = 0
	NoRegion RegionID = 0
	NoValue  ValueID  = 0
)

// IsValid reports whether id refers to an arena slot.
func (id OpID) IsValid() bool { return id != NoOp }

// IsValid reports whether id refers to an arena slot.
func (id BlockID) IsValid() bool { return id != NoBlock }

// IsValid reports whether id refers to an arena slot.
func (id RegionID) IsValid() bool { return id != NoRegion }

// IsValid reports whether id refers to an arena slot.
func (id ValueID) IsValid() bool { return id != NoValue }
