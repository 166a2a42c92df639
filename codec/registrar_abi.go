package codec

// RegistrarABI is the interface of the registrar program. Every argument is
// non-indexed so events decode entirely from log data.
const RegistrarABI = `[
{"type":"function","name":"commit","stateMutability":"nonpayable","inputs":[{"name":"commitment","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"register","stateMutability":"payable","inputs":[{"name":"name","type":"bytes"},{"name":"owner","type":"bytes32"},{"name":"duration","type":"uint64"},{"name":"secret","type":"bytes32"},{"name":"salt","type":"bytes32"},{"name":"resolver","type":"address"}],"outputs":[]},
{"type":"function","name":"renew","stateMutability":"payable","inputs":[{"name":"name","type":"bytes"},{"name":"duration","type":"uint64"}],"outputs":[]},
{"type":"function","name":"reserveNames","stateMutability":"nonpayable","inputs":[{"name":"labels","type":"bytes[]"}],"outputs":[]},
{"type":"function","name":"setPrices","stateMutability":"nonpayable","inputs":[{"name":"base","type":"uint128"},{"name":"premium","type":"uint128"}],"outputs":[]},
{"type":"function","name":"setCommitAges","stateMutability":"nonpayable","inputs":[{"name":"min","type":"uint64"},{"name":"max","type":"uint64"}],"outputs":[]},
{"type":"function","name":"setGracePeriod","stateMutability":"nonpayable","inputs":[{"name":"grace","type":"uint64"}],"outputs":[]},
{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"to","type":"bytes32"},{"name":"amount","type":"uint128"}],"outputs":[]},
{"type":"function","name":"available","stateMutability":"view","inputs":[{"name":"name","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"expiryOf","stateMutability":"view","inputs":[{"name":"name","type":"bytes"}],"outputs":[{"name":"found","type":"bool"},{"name":"expires","type":"uint64"}]},
{"type":"function","name":"price","stateMutability":"view","inputs":[{"name":"name","type":"bytes"},{"name":"duration","type":"uint64"}],"outputs":[{"name":"","type":"uint128"}]},
{"type":"function","name":"reserved","stateMutability":"view","inputs":[{"name":"name","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"event","name":"CommitSubmitted","anonymous":false,"inputs":[{"name":"commitment","type":"bytes32","indexed":false},{"name":"timestamp","type":"uint64","indexed":false}]},
{"type":"event","name":"NameRegistered","anonymous":false,"inputs":[{"name":"name","type":"bytes","indexed":false},{"name":"owner","type":"bytes32","indexed":false},{"name":"expires","type":"uint64","indexed":false},{"name":"cost","type":"uint128","indexed":false}]},
{"type":"event","name":"NameRenewed","anonymous":false,"inputs":[{"name":"name","type":"bytes","indexed":false},{"name":"expires","type":"uint64","indexed":false},{"name":"cost","type":"uint128","indexed":false}]},
{"type":"event","name":"PricesSet","anonymous":false,"inputs":[{"name":"base","type":"uint128","indexed":false},{"name":"premium","type":"uint128","indexed":false}]},
{"type":"event","name":"CommitAgesSet","anonymous":false,"inputs":[{"name":"min","type":"uint64","indexed":false},{"name":"max","type":"uint64","indexed":false}]},
{"type":"event","name":"GracePeriodSet","anonymous":false,"inputs":[{"name":"grace","type":"uint64","indexed":false}]},
{"type":"event","name":"NamesReserved","anonymous":false,"inputs":[{"name":"labels","type":"bytes[]","indexed":false}]},
{"type":"event","name":"Withdrawn","anonymous":false,"inputs":[{"name":"to","type":"bytes32","indexed":false},{"name":"amount","type":"uint128","indexed":false}]}
]`
