package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI fragments for the two contracts the client talks to. The game
// contract is an opaque dependency; only the surface used here is
// declared.
const ponyPvPABI = `[
  {"type":"function","name":"createMatch","stateMutability":"payable","inputs":[{"name":"betToken","type":"address"},{"name":"betAmount","type":"uint256"},{"name":"isNFT","type":"bool"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"joinMatch","stateMutability":"payable","inputs":[{"name":"matchId","type":"bytes32"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"selectHorses","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"},{"name":"horses","type":"uint8[]"}],"outputs":[]},
  {"type":"function","name":"executeRace","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"claimWinnings","stateMutability":"nonpayable","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getMatch","stateMutability":"view","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[
    {"name":"creator","type":"address"},
    {"name":"opponent","type":"address"},
    {"name":"betToken","type":"address"},
    {"name":"betAmount","type":"uint256"},
    {"name":"isNFT","type":"bool"},
    {"name":"nftTokenId","type":"uint256"},
    {"name":"state","type":"uint8"},
    {"name":"creatorHorses","type":"uint8[]"},
    {"name":"opponentHorses","type":"uint8[]"},
    {"name":"firstPicker","type":"address"},
    {"name":"createdAt","type":"uint256"},
    {"name":"gameStartTime","type":"uint256"},
    {"name":"winners","type":"uint8[3]"}]},
  {"type":"function","name":"getCurrentPicker","stateMutability":"view","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getUserMatches","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bytes32[]"}]},
  {"type":"function","name":"entryFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"TOTAL_GAME_TIME","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"MatchCreated","inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"betToken","type":"address","indexed":false},{"name":"betAmount","type":"uint256","indexed":false},{"name":"isNFT","type":"bool","indexed":false}],"anonymous":false},
  {"type":"event","name":"MatchJoined","inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"opponent","type":"address","indexed":true}],"anonymous":false},
  {"type":"event","name":"HorseSelected","inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"picker","type":"address","indexed":true},{"name":"horses","type":"uint8[]","indexed":false}],"anonymous":false},
  {"type":"event","name":"RaceCompleted","inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"winners","type":"uint8[3]","indexed":false}],"anonymous":false},
  {"type":"event","name":"WinningsClaimed","inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"claimer","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false}
]`

const erc20ABI = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Event names emitted by the game contract.
const (
	EvMatchCreated    = "MatchCreated"
	EvMatchJoined     = "MatchJoined"
	EvHorseSelected   = "HorseSelected"
	EvRaceCompleted   = "RaceCompleted"
	EvWinningsClaimed = "WinningsClaimed"
)

var (
	gameABI  abi.ABI
	tokenABI abi.ABI
)

func init() {
	var err error
	gameABI, err = abi.JSON(strings.NewReader(ponyPvPABI))
	if err != nil {
		panic("chain: bad game ABI: " + err.Error())
	}
	tokenABI, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic("chain: bad token ABI: " + err.Error())
	}
}
