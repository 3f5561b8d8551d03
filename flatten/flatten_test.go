package flatten

import (
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func memFS(files map[string]string) func(string) ([]byte, error) {
	return func(name string) ([]byte, error) {
		src, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
		}
		return []byte(src), nil
	}
}

func TestFlattenInlinesOnce(t *testing.T) {
	files := map[string]string{
		"contracts/Crowdsale.sol":        "pragma solidity ^0.4.18;\nimport \"./SafeMath.sol\";\nimport './Token.sol';\ncontract Crowdsale {}\n",
		"contracts/Token.sol":            "pragma solidity ^0.4.18;\nimport \"zeppelin/math/SafeMath.sol\";\nimport {Ownable} from \"./Ownable.sol\";\ncontract Token {}\n",
		"contracts/SafeMath.sol":         "pragma solidity ^0.4.18;\nlibrary SafeMathLocal {}\n",
		"contracts/Ownable.sol":          "pragma solidity ^0.4.18;\ncontract Ownable {}",
		"lib/zeppelin/math/SafeMath.sol": "pragma solidity ^0.4.18;\nlibrary SafeMath {}\n",
	}
	remaps, err := ParseRemappings([]string{"zeppelin=lib/zeppelin"})
	require.NoError(t, err)
	f := &Flattener{Root: "contracts", Remappings: remaps, ReadFile: memFS(files)}

	res, err := f.Flatten("Crowdsale.sol")
	require.NoError(t, err)
	require.Equal(t, []string{
		"contracts/SafeMath.sol",
		"lib/zeppelin/math/SafeMath.sol",
		"contracts/Ownable.sol",
		"contracts/Token.sol",
		"contracts/Crowdsale.sol",
	}, res.Paths)
	require.Equal(t, 1, strings.Count(res.Source, "pragma solidity"))
	require.NotContains(t, res.Source, "import")
	require.Equal(t, "pragma solidity ^0.4.18;\nlibrary SafeMathLocal {}\nlibrary SafeMath {}\ncontract Ownable {}\ncontract Token {}\ncontract Crowdsale {}\n", res.Source)
}

func TestFlattenDuplicateImportsCollapse(t *testing.T) {
	files := map[string]string{
		"a.sol": "import \"b.sol\";\nimport \"c.sol\";\ncontract A {}\n",
		"b.sol": "import \"c.sol\";\ncontract B {}\n",
		"c.sol": "contract C {}\n",
	}
	res, err := (&Flattener{ReadFile: memFS(files)}).Flatten("a.sol")
	require.NoError(t, err)
	require.Equal(t, []string{"c.sol", "b.sol", "a.sol"}, res.Paths)
	require.Equal(t, 1, strings.Count(res.Source, "contract C"))
}

func TestFlattenErrors(t *testing.T) {
	cyclic := map[string]string{
		"a.sol": "import \"b.sol\";\n",
		"b.sol": "import \"a.sol\";\n",
	}
	_, err := (&Flattener{ReadFile: memFS(cyclic)}).Flatten("a.sol")
	require.ErrorIs(t, err, ErrImportCycle)

	_, err = (&Flattener{ReadFile: memFS(map[string]string{"a.sol": "import \"gone.sol\";\n"})}).Flatten("a.sol")
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = ParseRemappings([]string{"nope"})
	require.ErrorIs(t, err, ErrBadRemapping)
}

func TestFlattenMultiLineImport(t *testing.T) {
	files := map[string]string{
		"Main.sol": "pragma solidity ^0.4.18;\nimport {\n  Lib,\n  Other\n} from \"./Lib.sol\";\ncontract Main {}\n",
		"Lib.sol":  "pragma solidity ^0.4.18;\nlibrary Lib {}\ncontract Other {}\n",
	}
	res, err := (&Flattener{ReadFile: memFS(files)}).Flatten("Main.sol")
	require.NoError(t, err)
	require.Equal(t, []string{"Lib.sol", "Main.sol"}, res.Paths)
	require.NotContains(t, res.Source, "import")
	require.NotContains(t, res.Source, "} from")
	require.Equal(t, "pragma solidity ^0.4.18;\nlibrary Lib {}\ncontract Other {}\ncontract Main {}\n", res.Source)
}
