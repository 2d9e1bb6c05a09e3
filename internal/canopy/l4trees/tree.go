package l4trees

// Tree is a reported tree: a marker inside its tile's core with its final
// basin ID and basin area in map units squared.
type Tree struct {
	ID        int64
	X         float64
	Y         float64
	Height    float64
	BasinArea float64
	Tile      int
}
