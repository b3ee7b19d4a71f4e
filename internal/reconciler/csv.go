package reconciler

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
)

const (
	csvColumnTxHash = "Transaction Hash"
	csvColumnMethod = "Method"
)

// ParseEtherscanCSV returns the hashes of purchase rows in an Etherscan transaction export.
// A row is a purchase when its Method starts with "buy", case-insensitively.
func ParseEtherscanCSV(r io.Reader) ([]common.Hash, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	hashCol, methodCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case csvColumnTxHash:
			hashCol = i
		case csvColumnMethod:
			methodCol = i
		}
	}
	if hashCol < 0 || methodCol < 0 {
		return nil, fmt.Errorf("%w: csv needs %q and %q columns", domain.ErrInvalidConfig, csvColumnTxHash, csvColumnMethod)
	}

	var hashes []common.Hash
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}
		if hashCol >= len(record) || methodCol >= len(record) {
			continue
		}

		method := strings.ToLower(strings.TrimSpace(record[methodCol]))
		if !strings.HasPrefix(method, "buy") {
			continue
		}

		hash, err := ParseTxHash(record[hashCol])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		hashes = append(hashes, hash)
	}

	return hashes, nil
}

// ParseTxHashList parses a comma separated list of transaction hashes, ignoring blanks
func ParseTxHashList(list string) ([]common.Hash, error) {
	var hashes []common.Hash
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hash, err := ParseTxHash(part)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// ParseTxHash validates and parses a 0x prefixed 32-byte hash
func ParseTxHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, fmt.Errorf("%w: transaction hash %q must be 0x prefixed", domain.ErrInvalidConfig, s)
	}
	if len(s) != 2+2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: transaction hash %q must be 32 bytes", domain.ErrInvalidConfig, s)
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return common.Hash{}, fmt.Errorf("%w: transaction hash %q is not hex", domain.ErrInvalidConfig, s)
	}
	return common.HexToHash(s), nil
}
