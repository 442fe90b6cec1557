package kv

// Schema of the walletd database. Every bucket name and key below is
// part of the on-disk layout; renaming one is a migration.
var (
	// accountsBucket maps registration id -> JSON-encoded account row.
	accountsBucket = []byte("accounts")
	// addressToIDBucket is the reverse index: lower-cased deposit address
	// -> registration id.
	addressToIDBucket = []byte("address_to_id")
	// nativeDepositsBucket maps tx hash -> JSON-encoded native deposit.
	nativeDepositsBucket = []byte("native_deposits")
	// erc20DepositsBucket maps "{tx_hash}:{log_index}" -> JSON-encoded
	// token deposit.
	erc20DepositsBucket = []byte("erc20_deposits")
	// stateBucket holds scanner state, currently only the block cursor.
	stateBucket = []byte("state")
	// tokenMetadataBucket maps lower-cased token address -> JSON-encoded
	// symbol/decimals/name.
	tokenMetadataBucket = []byte("token_metadata")

	// Keys within stateBucket.
	lastProcessedBlockKey = []byte("last_processed_block")
)
