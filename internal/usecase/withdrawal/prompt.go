package withdrawal

import (
	"fmt"

	"github.com/tracefund/trace-backend/internal/domain"
)

const campaignDestination = "the Campaign"

// BuildPrompt assembles what the viewer confirms before the withdrawal is broadcast
// Logic:
//   - Title: the recipient withdraws to their own wallet, anyone else disburses to the recipient
//   - Destination: LP milestones pay into their campaign
//   - More donations than batchLimit: each transaction settles at most batchLimit, warn about sequential withdrawals
//   - Every kind except LP milestones is paid out after a security delay
func BuildPrompt(trace *domain.Trace, isRecipient bool, donationCount, batchLimit int) *domain.ConfirmationPrompt {
	prompt := &domain.ConfirmationPrompt{
		Title:         "Disburse Funds to Recipient",
		Destination:   "the recipient's wallet",
		DonationCount: donationCount,
		BatchLimit:    batchLimit,
	}
	verb, owner := "disburse", "the recipient's"
	if isRecipient {
		prompt.Title = "Withdraw Funds to Wallet"
		prompt.Destination = "your wallet"
		verb, owner = "withdraw", "your"
	}

	if trace.IsLP() {
		prompt.Destination = campaignDestination
	} else {
		prompt.DelayNotice = fmt.Sprintf(
			"For security reasons, there is a delay of approximately 72 hrs before the funds will appear in %s wallet.", owner)
	}

	if batchLimit > 0 && donationCount > batchLimit {
		prompt.RequiresMultipleWithdrawals = true
		prompt.BatchWarning = fmt.Sprintf(
			"Due to the current gas limitations you may be required to withdraw multiple times. "+
				"You have %d donations to %s. At each try donations from %d different sources can be paid.",
			donationCount, verb, batchLimit)
	}

	return prompt
}

// Withdrawals returns how many sequential transactions settle donationCount donations
func Withdrawals(donationCount, batchLimit int) int {
	if donationCount <= 0 {
		return 0
	}
	if batchLimit <= 0 {
		return 1
	}
	return (donationCount + batchLimit - 1) / batchLimit
}
