package prover

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
)

// SaveProvingKey writes pk to path.
func SaveProvingKey(path string, pk groth16.ProvingKey) error { return writeKey(path, pk) }

// SaveVerifyingKey writes vk to path.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error { return writeKey(path, vk) }

func writeKey(path string, key io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := key.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write key %s: %w", path, err)
	}
	return f.Close()
}

// LoadProvingKey reads a BN254 proving key.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)
	if err := readKey(path, pk); err != nil {
		return nil, err
	}
	return pk, nil
}

// LoadVerifyingKey reads a BN254 verifying key.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readKey(path, vk); err != nil {
		return nil, err
	}
	return vk, nil
}

// A missing file surfaces as fs.ErrNotExist.
func readKey(path string, key io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := key.ReadFrom(f); err != nil {
		return fmt.Errorf("read key %s: %w", path, err)
	}
	return nil
}

// SetupOrLoadKeys loads the key pair from disk, or runs a fresh Groth16 setup
// and saves it when either file is missing. An empty pkPath skips the disk
// entirely.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, bool, error) {
	if pkPath != "" {
		pk, pkErr := LoadProvingKey(pkPath)
		vk, vkErr := LoadVerifyingKey(vkPath)
		if pkErr == nil && vkErr == nil {
			return pk, vk, true, nil
		}
		for _, err := range []error{pkErr, vkErr} {
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, nil, false, err
			}
		}
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, false, fmt.Errorf("groth16 setup: %w", err)
	}
	if pkPath == "" {
		return pk, vk, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(pkPath), 0o755); err != nil {
		return nil, nil, false, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, false, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, false, err
	}
	return pk, vk, false, nil
}
