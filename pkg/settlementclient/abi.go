package settlementclient

// contractABI is the subset of the subscription contract the service calls and listens to.
const contractABI = `[
  {"type":"function","name":"subscribe","stateMutability":"payable","outputs":[],
   "inputs":[{"name":"provider","type":"address"},{"name":"metadata","type":"bytes"}]},
  {"type":"function","name":"cancel","stateMutability":"nonpayable","outputs":[],
   "inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"}]},
  {"type":"function","name":"claim","stateMutability":"nonpayable","outputs":[],
   "inputs":[{"name":"provider","type":"address"},{"name":"amount","type":"uint256"}]},
  {"type":"event","name":"Subscribed","anonymous":false,
   "inputs":[{"indexed":true,"name":"user","type":"address"},
             {"indexed":true,"name":"provider","type":"address"},
             {"indexed":false,"name":"amount","type":"uint256"},
             {"indexed":false,"name":"timestamp","type":"uint256"},
             {"indexed":false,"name":"metadata","type":"bytes"}]},
  {"type":"event","name":"Cancelled","anonymous":false,
   "inputs":[{"indexed":true,"name":"user","type":"address"},
             {"indexed":false,"name":"amount","type":"uint256"}]},
  {"type":"event","name":"Claimed","anonymous":false,
   "inputs":[{"indexed":true,"name":"provider","type":"address"},
             {"indexed":false,"name":"amount","type":"uint256"}]}
]`

const (
	methodSubscribe = "subscribe"
	methodCancel    = "cancel"
	methodClaim     = "claim"
)

var eventForMethod = map[string]string{
	methodSubscribe: "Subscribed",
	methodCancel:    "Cancelled",
	methodClaim:     "Claimed",
}
