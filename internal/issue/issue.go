// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Id identifies a catalog entry.
type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	ReleaseNotFoundId
	NoMatchingAssetId
	RateLimitedId
	NetworkFailedId
	ChecksumMismatchId
	HostStillRunningId
	ExtractFailedId
	PermissionDeniedId
	RelaunchFailedId
	IndexCorruptId
	IndexSyncFailedId
	UnknownVersionId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id
	mdMsg    MarkdownMsg
	docLinks []HttpLink
	extLinks []HttpLink
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render formats the issue through glamour using the given style
// ("dark", "light", "notty" or a JSON style path).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if links := append(i.DocLinks(), i.extLinks...); len(links) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range links {
			md.WriteString("\n- <" + string(link) + ">")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	releasesLink = HttpLink("https://github.com/Scobalula/Greyhound/releases")
	indexLink    = HttpLink("https://github.com/Scobalula/GreyhoundPackageIndex")
	rateLimitDoc = HttpLink("https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api")

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be read or does not match the schema.

## Things you can try:
- Show the file being used:
~~~
$ hound-updater config path
~~~

- Regenerate a default file and copy your changes over:
~~~
$ hound-updater config init
~~~

- Values can also be overridden with ` + "`HOUND_UPDATER_*`" + ` environment variables,
  e.g. ` + "`HOUND_UPDATER_RELEASE_OWNER`" + `.`,
	}

	releaseNotFoundIssue = &Issue{
		id: ReleaseNotFoundId,
		mdMsg: `
# No release found!

The repository has no published stable release, or the requested tag does not exist.

## Things you can try:
- Check ` + "`release.owner`" + ` and ` + "`release.repo`" + ` in your configuration
- Omit the version to install the latest release`,
		extLinks: []HttpLink{releasesLink},
	}

	noMatchingAssetIssue = &Issue{
		id: NoMatchingAssetId,
		mdMsg: `
# The release has no downloadable package!

None of the release assets matched the configured asset pattern.

## Things you can try:
- Relax ` + "`release.asset_pattern`" + ` (default ` + "`*.zip`" + `)
- Download the release manually from the releases page`,
		extLinks: []HttpLink{releasesLink},
	}

	rateLimitedIssue = &Issue{
		id: RateLimitedId,
		mdMsg: `
# GitHub API rate limit reached!

Anonymous clients are limited to 60 requests per hour.

## Things you can try:
- Wait until the limit resets and retry
- Export a personal access token:
~~~
$ export GITHUB_TOKEN=<token>
~~~`,
		docLinks: []HttpLink{rateLimitDoc},
	}

	networkFailedIssue = &Issue{
		id: NetworkFailedId,
		mdMsg: `
# Could not reach GitHub!

The request failed before a response was received.

## Things you can try:
- Check your internet connection and proxy settings
- Retry in a few minutes`,
	}

	checksumMismatchIssue = &Issue{
		id: ChecksumMismatchId,
		mdMsg: `
# Download verification failed!

The downloaded package does not match the checksum published with the release.
Nothing was installed.

## Things you can try:
- Retry the update; the download may have been corrupted
- If it keeps failing, report it on the issue tracker`,
	}

	hostStillRunningIssue = &Issue{
		id: HostStillRunningId,
		mdMsg: `
# The application is still running!

The updater could not close every running instance, so its files cannot be replaced.

## Things you can try:
- Close the application manually and run the updater again
- Check for a hung process in your task manager`,
	}

	extractFailedIssue = &Issue{
		id: ExtractFailedId,
		mdMsg: `
# Failed to install the update!

The package could not be extracted over the installation directory.
Files extracted before the failure were left in place.

## Things you can try:
- Make sure no other program is using the application's files
- Re-run the updater to complete the installation`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

The updater is not allowed to write to the installation directory.

## Things you can try:
- Install the application into a directory you own
- Run the updater with the permissions used to install the application`,
	}

	relaunchFailedIssue = &Issue{
		id: RelaunchFailedId,
		mdMsg: `
# The update was installed, but the application did not start!

## Things you can try:
- Start the application manually
- Check ` + "`host.executable`" + ` matches the file inside the installation directory`,
	}

	indexCorruptIssue = &Issue{
		id: IndexCorruptId,
		mdMsg: `
# Package index file is corrupt!

The file is truncated, not an index file, or failed to decompress.

## Things you can try:
- Rebuild the package index from the dataset:
~~~
$ hound-updater index sync
~~~`,
		docLinks: []HttpLink{indexLink},
	}

	indexSyncFailedIssue = &Issue{
		id: IndexSyncFailedId,
		mdMsg: `
# Failed to sync the package index!

## Things you can try:
- Check ` + "`index.owner`" + `, ` + "`index.repo`" + ` and ` + "`index.branch`" + ` in your configuration
- Force a full rebuild:
~~~
$ hound-updater index sync --force
~~~`,
		docLinks: []HttpLink{indexLink},
	}

	unknownVersionIssue = &Issue{
		id: UnknownVersionId,
		mdMsg: `
# Installed version is unknown!

The updater compares the installed version with the latest release.

## Things you can try:
- Pass it explicitly:
~~~
$ hound-updater check --current-version 2.1.0.0
~~~

- Or set ` + "`host.current_version`" + ` in your configuration`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id(): configLoadFailedIssue,
		releaseNotFoundIssue.Id():  releaseNotFoundIssue,
		noMatchingAssetIssue.Id():  noMatchingAssetIssue,
		rateLimitedIssue.Id():      rateLimitedIssue,
		networkFailedIssue.Id():    networkFailedIssue,
		checksumMismatchIssue.Id(): checksumMismatchIssue,
		hostStillRunningIssue.Id(): hostStillRunningIssue,
		extractFailedIssue.Id():    extractFailedIssue,
		permissionDeniedIssue.Id(): permissionDeniedIssue,
		relaunchFailedIssue.Id():   relaunchFailedIssue,
		indexCorruptIssue.Id():     indexCorruptIssue,
		indexSyncFailedIssue.Id():  indexSyncFailedIssue,
		unknownVersionIssue.Id():   unknownVersionIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
