package outcome

import (
	"math/big"

	"github.com/pixelponies/pvp/internal/domain"
)

// Payout percentages in basis points. The house takes its fee off the
// whole pot first; the podium shares split what remains.
const (
	houseFeeBps = 250

	firstPlaceBps  = 8000
	secondPlaceBps = 1750
	thirdPlaceBps  = 250

	bpsDenominator = 10000
)

// Placement is one podium position with its owner attribution.
type Placement struct {
	Rank   int         `json:"rank"` // 1-based
	Horse  uint8       `json:"horse"`
	Owner  domain.Role `json:"owner"`
	Amount *big.Int    `json:"amount"`
}

// Result is the fully attributed outcome of a resolved match from the
// local participant's perspective.
type Result struct {
	Winners    [3]uint8    `json:"winners"`
	Won        bool        `json:"won"`
	Placements []Placement `json:"placements"`
	Pot        *big.Int    `json:"pot"`
	HouseFee   *big.Int    `json:"house_fee"`
	// MyPayout sums the shares of podium horses on the local roster.
	MyPayout *big.Int `json:"my_payout"`
}

func bpsShare(total *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(total, big.NewInt(bps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}

func ownerOf(v domain.MatchView, horse uint8) domain.Role {
	if v.CreatorHorses.Contains(horse) {
		return domain.RoleCreator
	}
	if v.OpponentHorses.Contains(horse) {
		return domain.RoleOpponent
	}
	return domain.RoleObserver
}

// Compute attributes the resolved podium to the two rosters and works
// out the payouts. All arithmetic is integer on wei-scale amounts;
// truncation dust stays with the house.
//
// Fungible stakes: the pot is both bets combined, the house fee comes
// off the top, and the podium splits the remainder 80 / 17.5 / 2.5 by
// horse ownership. NFT stakes are winner-take-all: whoever owns the
// first-place horse gets both NFTs and nothing is split.
func Compute(v domain.MatchView, winners [3]uint8) Result {
	res := Result{
		Winners:  winners,
		MyPayout: big.NewInt(0),
		HouseFee: big.NewInt(0),
		Pot:      big.NewInt(0),
	}
	if v.BetAmount != nil {
		res.Pot = new(big.Int).Mul(v.BetAmount, big.NewInt(2))
	}

	first := ownerOf(v, winners[0])
	res.Won = v.Role != domain.RoleObserver && first == v.Role

	if v.IsNFT {
		res.Placements = []Placement{{Rank: 1, Horse: winners[0], Owner: first, Amount: new(big.Int).Set(res.Pot)}}
		if res.Won {
			res.MyPayout = new(big.Int).Set(res.Pot)
		}
		return res
	}

	res.HouseFee = bpsShare(res.Pot, houseFeeBps)
	distributable := new(big.Int).Sub(res.Pot, res.HouseFee)

	shares := []int64{firstPlaceBps, secondPlaceBps, thirdPlaceBps}
	for i, horse := range winners {
		owner := ownerOf(v, horse)
		amount := bpsShare(distributable, shares[i])
		res.Placements = append(res.Placements, Placement{
			Rank:   i + 1,
			Horse:  horse,
			Owner:  owner,
			Amount: amount,
		})
		if v.Role != domain.RoleObserver && owner == v.Role {
			res.MyPayout.Add(res.MyPayout, amount)
		}
	}
	return res
}
