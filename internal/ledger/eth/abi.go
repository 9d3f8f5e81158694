package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// exchangeABIJSON is the subset of the exchange contract's ABI that the
// watcher consumes: the order book read surface and the four order lifecycle
// events.
const exchangeABIJSON = `[
  {"type":"function","name":"nextOrderId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"orders","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[
    {"name":"maker","type":"address"},
    {"name":"taker","type":"address"},
    {"name":"sellToken","type":"address"},
    {"name":"sellAmount","type":"uint256"},
    {"name":"buyToken","type":"address"},
    {"name":"buyAmount","type":"uint256"},
    {"name":"createdAt","type":"uint256"},
    {"name":"fee","type":"uint256"},
    {"name":"status","type":"uint8"},
    {"name":"attempts","type":"uint256"}
  ]},
  {"type":"event","name":"OrderCreated","inputs":[
    {"name":"id","type":"uint256","indexed":true},
    {"name":"maker","type":"address","indexed":true},
    {"name":"taker","type":"address","indexed":false},
    {"name":"sellToken","type":"address","indexed":false},
    {"name":"sellAmount","type":"uint256","indexed":false},
    {"name":"buyToken","type":"address","indexed":false},
    {"name":"buyAmount","type":"uint256","indexed":false},
    {"name":"createdAt","type":"uint256","indexed":false},
    {"name":"fee","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"OrderFilled","inputs":[
    {"name":"id","type":"uint256","indexed":true},
    {"name":"taker","type":"address","indexed":true}
  ]},
  {"type":"event","name":"OrderCanceled","inputs":[
    {"name":"id","type":"uint256","indexed":true}
  ]},
  {"type":"event","name":"OrdersCleaned","inputs":[
    {"name":"ids","type":"uint256[]","indexed":false},
    {"name":"caller","type":"address","indexed":false}
  ]}
]`

// exchangeABI parses the embedded ABI. Parsing is cheap enough to do once at
// dial time.
func exchangeABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(exchangeABIJSON))
}
