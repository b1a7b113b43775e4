package identity

// Reconcile computes the accounts present in following whose candidates never appear among
// the followers. Every record counts toward the diagnostics total, including records that
// yield no usable name.
func Reconcile(followers []Record, following []Record) Result {
	followerLookup, followerPrimaries, followerDiagnostics := buildFollowerLookup(followers)
	followingRows, followingDiagnostics := buildFollowingRows(following)

	flagged := make(UsernameSet)
	followedAt := make(map[string]int64, len(followingRows))
	for username, row := range followingRows {
		followedAt[username] = row.Timestamp
		if !row.Candidates.Intersects(followerLookup) {
			flagged.Add(username)
		}
	}

	return Result{
		Flagged:           flagged,
		Rows:              followingRows,
		FollowedAt:        followedAt,
		FollowerPrimaries: followerPrimaries,
		Diagnostics: Diagnostics{
			Followers: followerDiagnostics,
			Following: followingDiagnostics,
		},
	}
}

// Verify reports the membership of username in both exports and in the flagged set.
// Follower membership is checked by primary name only.
func (result Result) Verify(username string) Verification {
	normalized := NormalizeUsername(username)
	_, inFollowing := result.Rows[normalized]
	return Verification{
		Username:    normalized,
		InFollowing: inFollowing,
		InFollowers: result.FollowerPrimaries.Contains(normalized),
		Flagged:     result.Flagged.Contains(normalized),
	}
}

func buildFollowerLookup(followers []Record) (UsernameSet, UsernameSet, FileDiagnostics) {
	lookup := make(UsernameSet, len(followers))
	primaries := make(UsernameSet, len(followers))
	diagnostics := FileDiagnostics{Total: len(followers)}

	for _, record := range followers {
		candidates := ExtractCandidates(record)
		if len(candidates) == 0 {
			diagnostics.Invalid++
			continue
		}
		diagnostics.Parsed++
		for candidate := range candidates {
			lookup.Add(candidate)
		}
		if primary := ExtractPrimaryUsername(record); IsValidUsername(primary) {
			primaries.Add(primary)
		}
	}
	diagnostics.Unique = len(primaries)
	return lookup, primaries, diagnostics
}

func buildFollowingRows(following []Record) (map[string]FollowingRow, FileDiagnostics) {
	rows := make(map[string]FollowingRow, len(following))
	diagnostics := FileDiagnostics{Total: len(following)}

	for _, record := range following {
		primary := ExtractPrimaryUsername(record)
		if !IsValidUsername(primary) {
			diagnostics.Invalid++
			continue
		}
		diagnostics.Parsed++
		existingRow, exists := rows[primary]
		if exists && existingRow.Timestamp >= record.Timestamp {
			continue
		}
		rows[primary] = FollowingRow{
			Username:   primary,
			Timestamp:  record.Timestamp,
			Candidates: ExtractCandidates(record),
		}
	}
	diagnostics.Unique = len(rows)
	return rows, diagnostics
}
