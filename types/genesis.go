package types

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/tempfile"
	tmtime "github.com/tendermint/tendermint/types/time"
)

const (
	// MaxChainIDLen is a maximum length of the chain ID.
	MaxChainIDLen = 50
)

// GenesisProducer 创世文件中的出块者
type GenesisProducer struct {
	Address Address       `json:"address"`
	PubKey  crypto.PubKey `json:"pub_key"`
	Name    string        `json:"name"`
}

// GenesisDoc 链的初始配置：链名、创世时间、出块者集合
type GenesisDoc struct {
	GenesisTime    time.Time         `json:"genesis_time"`
	ChainID        string            `json:"chain_id"`
	MiningInterval time.Duration     `json:"mining_interval"`
	Producers      []GenesisProducer `json:"producers"`
}

// SaveAs is a utility method for saving GenensisDoc as a JSON file.
func (genDoc *GenesisDoc) SaveAs(file string) error {
	genDocBytes, err := tmjson.MarshalIndent(genDoc, "", "  ")
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(file, genDocBytes, 0644)
}

// ProducerSet 返回创世出块者集合
func (genDoc *GenesisDoc) ProducerSet() *ProducerSet {
	ps := make([]*Producer, len(genDoc.Producers))
	for i, p := range genDoc.Producers {
		ps[i] = NewProducer(p.PubKey, p.Name)
	}
	return NewProducerSet(ps)
}

// ValidateAndComplete checks that all necessary fields are present
// and fills in defaults for optional fields left empty
func (genDoc *GenesisDoc) ValidateAndComplete() error {
	if genDoc.ChainID == "" {
		return errors.New("genesis doc must include non-empty chain_id")
	}
	if len(genDoc.ChainID) > MaxChainIDLen {
		return errors.Errorf("chain_id in genesis doc is too long (max: %d)", MaxChainIDLen)
	}
	if len(genDoc.Producers) == 0 {
		return errors.New("genesis doc must include at least one producer")
	}
	for i, p := range genDoc.Producers {
		if p.PubKey == nil {
			return errors.Errorf("producer #%d has no pubkey", i)
		}
		if len(p.Address) == 0 {
			genDoc.Producers[i].Address = Address(p.PubKey.Address())
		} else if !p.Address.Equal(Address(p.PubKey.Address())) {
			return errors.Errorf("incorrect address for producer %v in the genesis file, should be %v",
				p, p.PubKey.Address())
		}
	}
	if genDoc.MiningInterval <= 0 {
		genDoc.MiningInterval = 4 * time.Second
	}
	if genDoc.GenesisTime.IsZero() {
		genDoc.GenesisTime = tmtime.Now()
	}
	return nil
}

// GenesisDocFromJSON unmarshalls JSON data into a GenesisDoc.
func GenesisDocFromJSON(jsonBlob []byte) (*GenesisDoc, error) {
	genDoc := GenesisDoc{}
	if err := tmjson.Unmarshal(jsonBlob, &genDoc); err != nil {
		return nil, err
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, err
	}
	return &genDoc, nil
}

// GenesisDocFromFile reads JSON data from a file and unmarshalls it into a GenesisDoc.
func GenesisDocFromFile(genDocFile string) (*GenesisDoc, error) {
	jsonBlob, err := ioutil.ReadFile(genDocFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read GenesisDoc file: %w", err)
	}
	genDoc, err := GenesisDocFromJSON(jsonBlob)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading GenesisDoc at %s", genDocFile)
	}
	return genDoc, nil
}
