package app

// EncodeID turns a zero-based position in the app list into the negative id
// used for both the installation and the app: 0 -> -1, 1 -> -2, ...
func EncodeID(index int) int {
	return -(index + 1)
}

// DecodeID reverses EncodeID. Ids that do not come from EncodeID (zero or
// positive) decode to a negative index, which callers treat as out of range.
func DecodeID(id int) int {
	return -id - 1
}
