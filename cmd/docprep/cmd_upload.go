// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocSearch/pkg/ux"
	"github.com/AleutianAI/AleutianDocSearch/services/docprep/gcs"
)

var uploadFlags struct {
	credentials string
	endpoint    string
}

func initUploadFlags() {
	f := uploadCmd.Flags()
	f.StringVar(&uploadFlags.credentials, "credentials", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), "service account key file")
	f.StringVar(&uploadFlags.endpoint, "endpoint", os.Getenv("STORAGE_EMULATOR_ENDPOINT"), "storage API endpoint override")
}

func runUpload(cmd *cobra.Command, args []string) error {
	localDir, target := args[0], args[1]
	bucket, prefix, err := gcs.ParseURI(target)
	if err != nil {
		return err
	}

	client, err := gcs.NewClient(cmd.Context(), gcs.Config{
		Bucket:          bucket,
		CredentialsFile: uploadFlags.credentials,
		Endpoint:        uploadFlags.endpoint,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	var uris []string
	err = ux.WithSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Uploading %s to %s", localDir, target), func() error {
		uris, err = client.UploadDir(cmd.Context(), localDir, prefix)
		return err
	})
	for _, uri := range uris {
		fmt.Fprintln(cmd.OutOrStdout(), uri)
	}
	return err
}
