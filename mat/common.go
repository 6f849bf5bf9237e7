package mat

import (
	"math"
	"math/rand/v2"
)

// Identity returns the dense identity matrix of the given dimension.
func Identity(dim int) [][]complex64 {
	id := make([][]complex64, dim)
	for i := range id {
		id[i] = make([]complex64, dim)
		id[i][i] = 1
	}
	return id
}

// Raising returns the bosonic creation operator of the given dimension.
func Raising(dim int) [][]complex64 {
	m := zeros(dim)
	for i := 1; i < dim; i++ {
		m[i][i-1] = complex(float32(math.Sqrt(float64(i))), 0)
	}
	return m
}

// Lowering returns the bosonic annihilation operator of the given dimension.
func Lowering(dim int) [][]complex64 {
	m := zeros(dim)
	for i := 1; i < dim; i++ {
		m[i-1][i] = complex(float32(math.Sqrt(float64(i))), 0)
	}
	return m
}

// Number returns the bosonic number operator, the diagonal 0..dim-1.
func Number(dim int) [][]complex64 {
	m := zeros(dim)
	for i := 0; i < dim; i++ {
		m[i][i] = complex(float32(i), 0)
	}
	return m
}

// RandHermitian returns a random hermitian matrix.
func RandHermitian(dim int) [][]complex64 {
	m := zeros(dim)
	for i := 0; i < dim; i++ {
		m[i][i] = complex(rand.Float32()*2-1, 0)
		for j := i + 1; j < dim; j++ {
			v := complex(rand.Float32()*2-1, rand.Float32()*2-1)
			m[i][j] = v
			m[j][i] = complex(real(v), -imag(v))
		}
	}
	return m
}

func zeros(dim int) [][]complex64 {
	m := make([][]complex64, dim)
	for i := range m {
		m[i] = make([]complex64, dim)
	}
	return m
}
