package sionet

import "github.com/sionet/sionet/codec"

// Binary marks a []byte payload as a binary attachment. A plain []byte
// travels as a JSON array of numbers; a Binary travels as a raw attachment
// frame with a placeholder in the JSON body.
type Binary = codec.Binary
