package align

import "golang.org/x/exp/constraints"

func Up[I constraints.Integer](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}

func Down[I constraints.Integer](a, b I) I {
	return a &^ (b - 1)
}
