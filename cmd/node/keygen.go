package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
)

var keygenCount int

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "生成 secp256k1 密钥对（公钥为33字节压缩格式）",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenCount < 1 {
			return fmt.Errorf("--count 必须大于 0")
		}
		type keyPair struct {
			PrivateKey string `json:"private_key"`
			PublicKey  string `json:"public_key"`
		}
		pairs := make([]keyPair, 0, keygenCount)
		for i := 0; i < keygenCount; i++ {
			priv, err := signature.GenerateKey()
			if err != nil {
				return fmt.Errorf("生成私钥失败: %w", err)
			}
			pairs = append(pairs, keyPair{
				PrivateKey: hex.EncodeToString(priv.Serialize()),
				PublicKey:  hex.EncodeToString(signature.PublicKeyBytes(priv)),
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pairs)
	},
}

func init() {
	keygenCmd.Flags().IntVarP(&keygenCount, "count", "n", 1, "生成数量")
}
