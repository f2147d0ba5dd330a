// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

var ExportErrStoreUnavailable = errStoreUnavailable
