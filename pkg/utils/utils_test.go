package utils

import (
	"encoding/pem"
	"testing"
)

func TestCheckPEMBlock(t *testing.T) {
	testCases := []struct {
		name  string
		block *pem.Block
		want  error
	}{
		{"nil block", nil, ErrNoPEMBlock},
		{"wrong type", &pem.Block{Type: "PRIVATE KEY"}, ErrUnmatchedPEMType},
		{"headers", &pem.Block{Type: CertPEMBlockType, Headers: map[string]string{"Proc-Type": "4,ENCRYPTED"}}, ErrUnmatchedPEMType},
		{"ok", &pem.Block{Type: CertPEMBlockType}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CheckPEMBlock(tc.block, CertPEMBlockType); got != tc.want {
				t.Errorf("got %v; want %v", got, tc.want)
			}
		})
	}
}

func TestDecodePEMBlocks(t *testing.T) {
	one := pem.EncodeToMemory(&pem.Block{Type: "A", Bytes: []byte("first")})
	two := pem.EncodeToMemory(&pem.Block{Type: "B", Bytes: []byte("second")})
	data := append([]byte("leading text\n"), one...)
	data = append(data, []byte("in between\n")...)
	data = append(data, two...)

	blocks := DecodePEMBlocks(data)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks; want 2", len(blocks))
	}
	if blocks[0].Type != "A" || blocks[1].Type != "B" {
		t.Errorf("got types %q, %q", blocks[0].Type, blocks[1].Type)
	}
	if len(DecodePEMBlocks([]byte("no pem here"))) != 0 {
		t.Error("expected no blocks")
	}
}
