package code

// Block types are stored in the low bits of a block instruction's immediate. Value-type block types set
// BlockTypeSpecial; type-index block types do not. The decoder stores the block's entry stack height in the
// bits selected by StackHeightMask.
const (
	BlockTypeSpecial = 0x8000000000000000
	BlockTypeMask    = 0x80000000ffffffff
	StackHeightMask  = 0x7fffffff00000000

	BlockTypeEmpty   = 0x40 | BlockTypeSpecial
	BlockTypeI32     = 0x7f | BlockTypeSpecial
	BlockTypeI64     = 0x7e | BlockTypeSpecial
	BlockTypeF32     = 0x7d | BlockTypeSpecial
	BlockTypeF64     = 0x7c | BlockTypeSpecial
	BlockTypeFuncRef = 0x70 | BlockTypeSpecial
)

// BlockType returns the immediate for a block whose type is the function type at typeidx.
func BlockType(typeidx uint32) uint64 {
	return uint64(typeidx)
}
