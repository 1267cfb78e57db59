package lending

import (
	"math/bits"

	"github.com/holiman/uint256"
)

// collateralMultiple is the factor the collateral must strictly exceed.
const collateralMultiple = 2

func addAmounts(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}

// meetsCollateralRatio reports whether collateral > 2 × borrowed. The product
// is computed in 256-bit space so large borrow amounts cannot wrap.
func meetsCollateralRatio(collateral, borrowed uint64) bool {
	required := new(uint256.Int).Mul(uint256.NewInt(borrowed), uint256.NewInt(collateralMultiple))
	return uint256.NewInt(collateral).Gt(required)
}

// maxBorrowFor returns the largest borrow amount that collateral can back.
func maxBorrowFor(collateral uint64) uint64 {
	if collateral == 0 {
		return 0
	}
	return (collateral - 1) / collateralMultiple
}
