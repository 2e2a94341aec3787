package scheme

import "github.com/ChristianMct/ecd/fhe"

// Handle is a ciphertext or plaintext bound to the Context that produced it.
type Handle interface {
	Kind() fhe.ObjectKind
	Level() int
	Scale() float64
	// Len returns the length of the encoded vector.
	Len() int
	Owner() *Context

	object() fhe.Object
	valid() bool
}

type handle struct {
	obj    fhe.Object
	owner  *Context
	length int
}

func (h handle) Kind() fhe.ObjectKind { return h.obj.Kind() }
func (h handle) Level() int           { return h.obj.Level() }
func (h handle) Scale() float64       { return h.obj.Scale() }
func (h handle) Len() int             { return h.length }
func (h handle) Owner() *Context      { return h.owner }
func (h handle) object() fhe.Object   { return h.obj }

// Ciphertext is an encrypted vector of real-valued slots.
type Ciphertext struct{ handle }

// Plaintext is an encoded vector of real-valued slots.
type Plaintext struct{ handle }

func (ct *Ciphertext) valid() bool { return ct != nil && ct.obj != nil }
func (pt *Plaintext) valid() bool  { return pt != nil && pt.obj != nil }
